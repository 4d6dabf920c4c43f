package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/estuary/scribe/internal/opstream"
)

// OpAppender persists the ops accompanying a checkpoint write to the
// document's op store (internal/pendingops.Store in production).
type OpAppender interface {
	Append(op opstream.SequencedOp) error
}

// OffsetAcker acknowledges a stream offset to the upstream bus. It must
// be idempotent per offset (spec.md §6).
type OffsetAcker interface {
	Checkpoint(offset int64, partition string, restartOnFailure bool) error
}

// Manager coordinates persistence of the scribe checkpoint plus its
// backing pending ops, and the subsequent upstream offset
// acknowledgement, per spec.md §4.C. Exactly one write is ever in
// flight; a write requested while one is outstanding coalesces into a
// single successor slot, and the newest request always wins.
type Manager struct {
	global                     DocumentStore
	local                      DocumentStore
	ops                        OpAppender
	acker                      OffsetAcker
	restartOnCheckpointFailure bool

	mu       sync.Mutex
	inFlight bool
	closed   bool

	// successor holds the non-checkpoint fields (ops, flags, offset) of
	// the newest coalesced request; successorPatch accumulates the RFC
	// 7396 merge patch of its Checkpoint field, the same discipline
	// go/runtime/connector_store.go uses for a connector's DriverCheckpoint:
	// each coalesced Checkpoint is merged into successorPatch via
	// jsonpatch.MergeMergePatches, then applied onto the checkpoint that
	// just settled via jsonpatch.MergePatch once drive is ready for it.
	successor      *WriteRequest
	successorPatch json.RawMessage
}

// NewManager constructs a Manager. global and local may be the same
// DocumentStore in tests; in production they are GlobalStore (etcd) and
// LocalStore (sqlite) respectively.
func NewManager(global, local DocumentStore, ops OpAppender, acker OffsetAcker, restartOnCheckpointFailure bool) *Manager {
	return &Manager{
		global:                     global,
		local:                      local,
		ops:                        ops,
		acker:                      acker,
		restartOnCheckpointFailure: restartOnCheckpointFailure,
	}
}

// Write persists req, coalescing with any in-flight write for the same
// document. If a write is already in flight, req replaces any queued
// successor and Write returns at once with a nil Err and AckOffset -1;
// the in-flight caller's drive writes it later. Otherwise Write performs
// the write, then drains every successor queued meanwhile, and returns
// the Result of the last write in that chain.
func (m *Manager) Write(ctx context.Context, documentId string, req WriteRequest) Result {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Result{Err: fmt.Errorf("checkpoint manager closed"), AckOffset: -1}
	}
	if m.inFlight {
		var patch, err = json.Marshal(req.Checkpoint)
		if err != nil {
			m.mu.Unlock()
			return Result{Err: fmt.Errorf("encoding coalesced checkpoint: %w", err), AckOffset: -1}
		}
		if len(m.successorPatch) == 0 {
			m.successorPatch = patch
		} else if m.successorPatch, err = jsonpatch.MergeMergePatches(m.successorPatch, patch); err != nil {
			m.mu.Unlock()
			return Result{Err: fmt.Errorf("merging coalesced checkpoint patch: %w", err), AckOffset: -1}
		}
		m.successor = &req
		m.mu.Unlock()
		// The in-flight write's completion will drain this successor;
		// the caller doesn't block on that drain; spec.md's coalescing
		// requirement is about durable-write cardinality, not about the
		// caller's own completion signal, and the scribe lambda does not
		// require a synchronous result in this case (see orchestrator).
		return Result{AckOffset: -1}
	}
	m.inFlight = true
	m.mu.Unlock()

	return m.drive(ctx, documentId, req)
}

// drive performs one write and, once it settles, drains any coalesced
// successor request that arrived while it was outstanding.
func (m *Manager) drive(ctx context.Context, documentId string, req WriteRequest) Result {
	var result = m.writeOnce(ctx, documentId, req)

	m.mu.Lock()
	var next = m.successor
	var patch = m.successorPatch
	m.successor = nil
	m.successorPatch = nil
	if next == nil {
		m.inFlight = false
		m.mu.Unlock()
		return result
	}
	m.mu.Unlock()

	// A superseding request arrived while req was being written; apply
	// its accumulated merge patch onto the checkpoint that just settled,
	// the same way connector_store.startCommit patches a driver
	// checkpoint onto its last-persisted base before committing.
	if len(patch) != 0 {
		if base, err := json.Marshal(req.Checkpoint); err != nil {
			return Result{Err: fmt.Errorf("encoding settled checkpoint: %w", err), AckOffset: -1}
		} else if merged, err := jsonpatch.MergePatch(base, patch); err != nil {
			return Result{Err: fmt.Errorf("patching coalesced checkpoint: %w", err), AckOffset: -1}
		} else if err := json.Unmarshal(merged, &next.Checkpoint); err != nil {
			return Result{Err: fmt.Errorf("decoding patched checkpoint: %w", err), AckOffset: -1}
		}
	}

	// A superseding request arrived; flush it now. Its result, not the
	// original's, is returned to the caller of the original Write, which
	// is still blocked in drive; `result` itself is discarded.
	return m.drive(ctx, documentId, *next)
}

func (m *Manager) writeOnce(ctx context.Context, documentId string, req WriteRequest) Result {
	if m.closed {
		return Result{Err: fmt.Errorf("checkpoint manager closed"), AckOffset: -1}
	}

	var store = m.local
	if req.IsGlobal() || store == nil {
		store = m.global
	}

	for _, op := range req.OpsToInsert {
		if err := m.ops.Append(op); err != nil {
			return Result{Err: fmt.Errorf("appending pending op %d: %w", op.SequenceNumber, err), AckOffset: -1}
		}
	}

	req.Checkpoint.IsCorrupt = req.IsCorrupt
	if err := store.UpdateCheckpoint(ctx, documentId, req.Checkpoint); err != nil {
		// Ordering of durable effects (spec.md §4.C): if the checkpoint
		// write fails, the upstream offset is never acknowledged.
		return Result{Err: err, AckOffset: -1}
	}

	if req.SkipAck {
		return Result{AckOffset: -1}
	}

	if err := m.acker.Checkpoint(req.Offset, req.Partition, m.restartOnCheckpointFailure); err != nil {
		return Result{Err: fmt.Errorf("acknowledging offset %d: %w", req.Offset, err), AckOffset: -1}
	}
	return Result{AckOffset: req.Offset}
}

// AckOnly acknowledges offset directly through the OffsetAcker without a
// paired checkpoint write, for the reprocess-ack path governed by the
// kafkaCheckpointOnReprocessingOp flag (spec.md §4.F step 1 / §9 open
// questions).
func (m *Manager) AckOnly(offset int64, partition string, restartOnFailure bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("checkpoint manager closed")
	}
	m.mu.Unlock()
	return m.acker.Checkpoint(offset, partition, restartOnFailure)
}

// Delete invalidates cached checkpoint state after a service summary
// that demands cache clearing (spec.md §4.C Delete contract).
func (m *Manager) Delete(ctx context.Context, documentId string, protocolHead uint64, deferred bool) error {
	return m.global.DeleteCheckpoint(ctx, documentId, protocolHead, deferred)
}

// Close marks the manager closed; any in-flight write is allowed to
// settle, but no new work is scheduled (spec.md §5 Cancellation).
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.successor = nil
	m.mu.Unlock()
}
