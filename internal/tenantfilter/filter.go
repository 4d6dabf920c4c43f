// Package tenantfilter implements a transient set of tenant IDs excluded
// from service summaries: a tenant under migration or decommission can be
// marked here so the NoClient dispatch path skips writing a service
// summary for its documents. A plain map suffices (stdlib-only; see
// DESIGN.md) since this is pure in-memory set membership with no
// persistence or distribution concerns of its own.
package tenantfilter

import "sync"

// Filter is a concurrency-safe transient set of excluded tenant IDs.
type Filter struct {
	mu      sync.RWMutex
	exclude map[string]struct{}
}

// New constructs an empty Filter.
func New() *Filter {
	return &Filter{exclude: make(map[string]struct{})}
}

// Exclude marks tenantId as excluded from service summaries.
func (f *Filter) Exclude(tenantId string) {
	f.mu.Lock()
	f.exclude[tenantId] = struct{}{}
	f.mu.Unlock()
}

// Include removes tenantId from the excluded set.
func (f *Filter) Include(tenantId string) {
	f.mu.Lock()
	delete(f.exclude, tenantId)
	f.mu.Unlock()
}

// IsExcluded reports whether tenantId is currently excluded.
func (f *Filter) IsExcluded(tenantId string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.exclude[tenantId]
	return ok
}
