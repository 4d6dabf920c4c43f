package scribe

import lru "github.com/hashicorp/golang-lru/v2"

// lruSummaryCache is the production SummaryCache, sized per worker
// process rather than per document.
type lruSummaryCache struct {
	cache *lru.Cache[string, []string]
}

// NewSummaryCache constructs a SummaryCache holding at most size
// documents' worth of validParentSummaries.
func NewSummaryCache(size int) (SummaryCache, error) {
	var cache, err = lru.New[string, []string](size)
	if err != nil {
		return nil, err
	}
	return &lruSummaryCache{cache: cache}, nil
}

func (c *lruSummaryCache) Record(documentId string, validParentSummaries []string) {
	c.cache.Add(documentId, append([]string(nil), validParentSummaries...))
}

func (c *lruSummaryCache) Get(documentId string) ([]string, bool) {
	var v, ok = c.cache.Get(documentId)
	if !ok {
		return nil, false
	}
	return append([]string(nil), v...), true
}
