package scribe

import (
	"fmt"

	pb "go.gazette.dev/core/broker/protocol"
	"go.gazette.dev/core/message"

	"github.com/estuary/scribe/internal/opstream"
)

// journalProducer implements the Producer collaborator (spec.md §6) by
// appending system ops back onto the document's own op-stream journal,
// where a later read dispatches them exactly like any other op (matching
// routerlicious's scribe writing SummaryAck/Control back to its own Kafka
// partition). Grounded on the teacher's ConsumeMessage/FinalizeTxn use of
// the framework-supplied *message.Publisher (go/runtime/capture.go,
// go/runtime/derive.go) rather than a standalone append client: Gazette
// hands the transaction's Publisher to the Application on every call, so
// no separate AppendService needs constructing.
type journalProducer struct {
	journal pb.Journal
	pub     *message.Publisher
}

func (p *journalProducer) Send(tenantId, documentId string, op opstream.SequencedOp) error {
	msg, err := newOutboundMessage(opstream.Batch{
		Partition: string(p.journal),
		Contents:  []opstream.SequencedOp{op},
	})
	if err != nil {
		return err
	}
	if _, err := p.pub.PublishUncommitted(p.mapFn, msg); err != nil {
		return fmt.Errorf("publishing %s op for document %s: %w", op.Type, documentId, err)
	}
	return nil
}

// mapFn always maps back to the shard's own source journal: Scribe
// documents don't fan out to other partitions, so no dynamic partition
// discovery (as the teacher's flow.Mapper performs for collections) is
// needed here.
func (p *journalProducer) mapFn(message.Mappable) (pb.Journal, message.Framing, error) {
	return p.journal, message.JSONFraming, nil
}
