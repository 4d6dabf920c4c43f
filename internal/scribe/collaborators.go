package scribe

import "github.com/estuary/scribe/internal/opstream"

// Producer is the outbound op emitter (spec.md §6 "Producer"): system ops
// (SummaryAck, SummaryNack, Control) are sent back to the document's
// stream under the owning tenant/document pair.
type Producer interface {
	Send(tenantId, documentId string, op opstream.SequencedOp) error
}

// PendingMessageReader resolves a sequence gap by returning the ops
// covering the inclusive range [fromSeq, toSeq], per spec.md §6's
// "Pending Message Reader: readMessages(fromSeq, toSeq)". A nil
// PendingMessageReader means gaps are always fatal (InvalidSequenceGap).
type PendingMessageReader interface {
	ReadMessages(fromSeq, toSeq uint64) ([]opstream.SequencedOp, error)
}

// SummaryCache bounds memory spent on validParentSummaries across every
// document a worker process hosts, independent of the per-document hard
// cap spec.md §4.F enforces on a single document's slice
// (maxTrackedServiceSummaryVersionsSinceLastClientSummary). Backed by an
// LRU keyed by documentId so a worker juggling many documents evicts the
// least recently checkpointed ones first.
type SummaryCache interface {
	Record(documentId string, validParentSummaries []string)
	Get(documentId string) ([]string, bool)
}
