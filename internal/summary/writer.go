package summary

import (
	"context"
	"fmt"

	"github.com/estuary/scribe/internal/opstream"
)

// Uploader is the narrow persistence surface a DocumentWriter needs; in
// production it's a *ContentStore, in tests an in-memory fake.
type Uploader interface {
	Put(ctx context.Context, tree Tree) (string, error)
}

// DocumentWriter is the production Writer for a single document, per
// spec.md §4.D. A separate instance is constructed per active document by
// the orchestrator (Module F).
type DocumentWriter struct {
	store      Uploader
	isExternal bool
}

// NewDocumentWriter constructs a Writer. isExternal marks a document whose
// client summaries are uploaded by a separate service (spec.md §4.D
// "External Writer" note); Scribe then only ever observes SummaryAck ops
// for such documents and must not attempt WriteClientSummary itself.
func NewDocumentWriter(store Uploader, isExternal bool) *DocumentWriter {
	return &DocumentWriter{store: store, isExternal: isExternal}
}

func (w *DocumentWriter) IsExternal() bool { return w.isExternal }

// WriteClientSummary assembles and uploads a client-initiated summary
// tree: the client's uploaded app tree (already written by the client
// before sending op), the logtail since protocolHead, and the current
// protocol state. It nacks rather than erroring when the client's claimed
// parent summary isn't in ValidParentSummaries, since that is an expected
// race (a competing client's summary already advanced the chain) rather
// than an operational failure.
func (w *DocumentWriter) WriteClientSummary(
	op opstream.SequencedOp,
	lastClientSummaryHead string,
	checkpoint ScribeCheckpointView,
	pendingOps []opstream.SequencedOp,
	isEphemeral bool,
) (ClientSummaryResult, error) {
	if w.isExternal {
		return ClientSummaryResult{}, fmt.Errorf("document uses an external summary writer")
	}

	var proposal summaryProposal
	if err := op.Contents.Decode(&proposal); err != nil {
		return ClientSummaryResult{}, fmt.Errorf("decoding summarize op: %w", err)
	}

	if !validParent(lastClientSummaryHead, checkpoint.ValidParentSummaries) {
		return ClientSummaryResult{
			Status: false,
			Nack: &Nack{
				Message:               "stale parent summary",
				SummarySequenceNumber: proposal.SummarySequenceNumber,
			},
		}, nil
	}

	var tree = Tree{
		AppTreeHandle: proposal.AppTreeHandle,
		Logtail:       logtailFrom(pendingOps, checkpoint.ProtocolHead),
		Protocol:      checkpoint.ProtocolState,
		Parents:       checkpoint.ValidParentSummaries,
	}

	handle, err := w.store.Put(context.Background(), tree)
	if err != nil {
		return ClientSummaryResult{}, fmt.Errorf("uploading client summary: %w", err)
	}

	return ClientSummaryResult{
		Status: true,
		Ack: &Ack{
			Handle:                handle,
			SummarySequenceNumber: proposal.SummarySequenceNumber,
		},
	}, nil
}

// WriteServiceSummary assembles and uploads a service-initiated ("no
// active clients") summary. It has no client-uploaded app tree to
// reference: the app tree is inherited from checkpoint's last client
// summary by virtue of being omitted here, and a reader resolves it by
// walking Parents.
func (w *DocumentWriter) WriteServiceSummary(
	op opstream.SequencedOp,
	protocolHead uint64,
	checkpoint ScribeCheckpointView,
	pendingOps []opstream.SequencedOp,
) (string, error) {
	var tree = Tree{
		Logtail:  logtailFrom(pendingOps, protocolHead),
		Protocol: checkpoint.ProtocolState,
		Parents:  checkpoint.ValidParentSummaries,
	}

	handle, err := w.store.Put(context.Background(), tree)
	if err != nil {
		return "", fmt.Errorf("uploading service summary: %w", err)
	}
	return handle, nil
}

// summaryProposal is the decoded Contents of a client Summarize op.
type summaryProposal struct {
	AppTreeHandle         string `json:"appTreeHandle"`
	SummarySequenceNumber uint64 `json:"summarySequenceNumber"`
}

func validParent(claimed string, valid []string) bool {
	if claimed == "" {
		return true
	}
	for _, v := range valid {
		if v == claimed {
			return true
		}
	}
	return false
}
