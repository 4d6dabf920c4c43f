// Package summary implements the Summary Writer (spec.md §4.D): it
// assembles client- and service-initiated snapshots and persists them to
// a content-addressed store, returning opaque handles the Checkpoint
// Manager and Protocol Handler never need to interpret.
package summary

import (
	"github.com/estuary/scribe/internal/opstream"
	"github.com/estuary/scribe/internal/protocolstate"
)

// Ack is returned on a successful client summary.
type Ack struct {
	Handle                string
	SummarySequenceNumber uint64
}

// Nack is returned when a client summary is rejected.
type Nack struct {
	Message               string
	SummarySequenceNumber uint64
}

// ClientSummaryResult is the outcome of WriteClientSummary.
type ClientSummaryResult struct {
	Status bool
	Ack    *Ack
	Nack   *Nack
}

// ScribeCheckpointView is the subset of a ScribeCheckpoint the Summary
// Writer needs; defined here (rather than imported from internal/checkpoint)
// to keep this package's dependency surface narrow, per spec.md's
// storage-agnostic design.
type ScribeCheckpointView struct {
	SequenceNumber            uint64
	MinimumSequenceNumber     uint64
	ProtocolHead              uint64
	LastSummarySequenceNumber uint64
	ValidParentSummaries      []string
	ProtocolState             protocolstate.Snapshot
}

// Writer is the Summary Writer contract from spec.md §4.D.
type Writer interface {
	// IsExternal reports whether a separate service is authoritative for
	// uploading client summaries; when true, the lambda must not call
	// WriteClientSummary and must only observe SummaryAck ops.
	IsExternal() bool

	WriteClientSummary(
		op opstream.SequencedOp,
		lastClientSummaryHead string,
		checkpoint ScribeCheckpointView,
		pendingOps []opstream.SequencedOp,
		isEphemeral bool,
	) (ClientSummaryResult, error)

	WriteServiceSummary(
		op opstream.SequencedOp,
		protocolHead uint64,
		checkpoint ScribeCheckpointView,
		pendingOps []opstream.SequencedOp,
	) (handle string, err error)
}

// Tree is the assembled-but-not-yet-uploaded shape of a summary: the
// uploaded client content tree (absent for a service summary, which
// inherits the last client summary's app tree instead), the appended
// logtail, and the serialized protocol tree.
type Tree struct {
	AppTreeHandle string
	Logtail       []opstream.SequencedOp
	Protocol      protocolstate.Snapshot
	Parents       []string
}

// logtailFrom truncates pendingOps to those strictly after protocolHead,
// matching the "logtail appended, truncated at protocolHead" rule shared
// by both WriteClientSummary and WriteServiceSummary.
func logtailFrom(pendingOps []opstream.SequencedOp, protocolHead uint64) []opstream.SequencedOp {
	var out []opstream.SequencedOp
	for _, op := range pendingOps {
		if op.SequenceNumber > protocolHead {
			out = append(out, op)
		}
	}
	return out
}
