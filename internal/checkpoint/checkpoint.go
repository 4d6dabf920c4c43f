// Package checkpoint implements the Checkpoint Manager (spec.md §4.C):
// two-tier durable progress (a canonical "global" record plus a
// partition-local fast path), the checkpoint heuristics that decide when
// to fire, and the single-slot coalescing writer that keeps at most one
// durable write in flight per document.
package checkpoint

import (
	"time"

	"github.com/gogo/protobuf/types"

	"github.com/estuary/scribe/internal/opstream"
	"github.com/estuary/scribe/internal/protocolstate"
)

// Reason is the heuristic that triggered a checkpoint, in the priority
// order spec.md §4.C defines.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMarkAsCorrupt
	ReasonNoClients
	ReasonEveryMessage
	ReasonMaxMessages
	ReasonMaxTime
	ReasonIdleTime
)

func (r Reason) String() string {
	switch r {
	case ReasonMarkAsCorrupt:
		return "MarkAsCorrupt"
	case ReasonNoClients:
		return "NoClients"
	case ReasonEveryMessage:
		return "EveryMessage"
	case ReasonMaxMessages:
		return "MaxMessages"
	case ReasonMaxTime:
		return "MaxTime"
	case ReasonIdleTime:
		return "IdleTime"
	default:
		return "None"
	}
}

// ScribeCheckpoint is the persisted record described in spec.md §3.
type ScribeCheckpoint struct {
	SequenceNumber            uint64
	MinimumSequenceNumber     uint64
	ProtocolState             protocolstate.Snapshot
	LogOffset                 int64
	LastSummarySequenceNumber uint64
	LastClientSummaryHead     string // empty means absent
	ValidParentSummaries      []string
	ProtocolHead              uint64
	IsCorrupt                 bool
	CheckpointTimestamp       *types.Timestamp
}

// WriteRequest bundles everything a single durable write needs: the
// checkpoint itself, the ops to append to the document's op store, and
// the global/local and corrupt flags that decide how it's persisted
// (spec.md §4.C Write contract). ClearCache is carried on the request
// but the Manager does not read it.
type WriteRequest struct {
	Checkpoint      ScribeCheckpoint
	ProtocolHead    uint64
	OpsToInsert     []opstream.SequencedOp
	NoActiveClients bool
	GlobalOnly      bool
	IsCorrupt       bool
	ClearCache      bool
	// SkipAck suppresses the upstream offset acknowledgement even though
	// the checkpoint write succeeded, per spec.md §7's MarkAsCorrupt
	// policy: "force a MarkAsCorrupt checkpoint skipping the upstream
	// acknowledgement, then rethrow."
	SkipAck bool

	// Bookkeeping carried alongside the write so the Checkpoint Manager
	// always acknowledges the most recent message, per spec.md §4.F step 4.
	Offset    int64
	Partition string
}

// IsGlobal implements the selection rule from spec.md §4.C: a checkpoint
// is global iff there are no active clients, or the caller forced
// global-only persistence.
func (w WriteRequest) IsGlobal() bool {
	return w.NoActiveClients || w.GlobalOnly
}

// Result is returned by a completed Write.
type Result struct {
	Err error
	// AckOffset is the upstream offset to acknowledge now that the
	// checkpoint is durable, or -1 if none should be acknowledged.
	AckOffset int64
}

// Heuristics configures when the orchestrator should fire a checkpoint,
// per spec.md §4.C "Checkpoint heuristics".
type Heuristics struct {
	Enable      bool
	MaxMessages uint64
	MaxTime     time.Duration
	IdleTime    time.Duration
}

// DefaultHeuristics matches the teacher's convention of shipping sane
// defaults alongside every configuration struct.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		Enable:      true,
		MaxMessages: 1000,
		MaxTime:     60 * time.Second,
		IdleTime:    5 * time.Second,
	}
}
