package scribe

import (
	"context"
	"fmt"

	"github.com/estuary/scribe/internal/opstream"
	"github.com/estuary/scribe/internal/protocolstate"
	"github.com/estuary/scribe/internal/telemetry"
)

// dispatchSummarize implements spec.md §4.F's Summarize branch. When the
// writer is external, a separate service is authoritative for uploading
// client content: Scribe only advances its protocol handler and never
// invokes writeClientSummary or emits Ack/Nack itself (resolves the
// isExternal interaction implied but not made explicit by spec.md §4.D).
func (l *Lambda) dispatchSummarize(ctx context.Context, op opstream.SequencedOp) error {
	if op.DeliAcked() {
		return nil
	}

	var external = l.writer != nil && l.writer.IsExternal()

	if external {
		if op.ReferenceSequenceNumber < l.protocol.SequenceNumber() {
			return nil // client is behind; ignore.
		}
		if err := l.drainProtocolTo(op.ReferenceSequenceNumber); err != nil {
			return l.markCorrupt(ctx, err)
		}
		return nil
	}

	var preProtocol = l.protocol.State(false)
	var prePending = l.pending.ToSlice()

	if err := l.drainProtocolTo(op.ReferenceSequenceNumber); err != nil {
		return l.markCorrupt(ctx, err)
	}

	if l.protocolHead >= l.protocol.SequenceNumber() {
		return nil // nothing new to summarize.
	}

	var proposalSeq = op.SequenceNumber
	result, err := l.writer.WriteClientSummary(op, l.lastClientSummaryHead, l.checkpointView(), l.pending.ToSlice(), l.isEphemeral)
	if err != nil {
		l.logf(telemetry.LevelError, "client summary write failed", "error", err, "sequenceNumber", proposalSeq)
		l.protocol = protocolstate.New(preProtocol)
		l.pending.Replace(prePending)

		if l.config.IgnoreStorageException {
			return l.send(opstream.NewSummaryNackOp(opstream.SummaryNackContents{
				Message:         err.Error(),
				SummaryProposal: opstream.SummaryProposal{SummarySequenceNumber: proposalSeq},
			}))
		}
		return fmt.Errorf("writing client summary: %w", err)
	}

	if result.Status {
		if err := l.send(opstream.NewSummaryAckOp(opstream.SummaryAckContents{
			Handle:          result.Ack.Handle,
			SummaryProposal: opstream.SummaryProposal{SummarySequenceNumber: result.Ack.SummarySequenceNumber},
		})); err != nil {
			return err
		}
		if err := l.send(opstream.NewControlOp(opstream.UpdateDSNContents{
			Type:                  opstream.UpdateDSN,
			IsClientSummary:       true,
			DurableSequenceNumber: l.protocol.SequenceNumber(),
			ClearCache:            false,
		})); err != nil {
			return err
		}
		l.protocolHead = l.protocol.SequenceNumber()
		l.lastSummarySequenceNumber = l.protocolHead
		l.lastClientSummaryHead = result.Ack.Handle
		l.validParentSummaries = nil
		return nil
	}

	if err := l.send(opstream.NewSummaryNackOp(opstream.SummaryNackContents{
		Message:         result.Nack.Message,
		SummaryProposal: opstream.SummaryProposal{SummarySequenceNumber: result.Nack.SummarySequenceNumber},
	})); err != nil {
		return err
	}
	l.protocol = protocolstate.New(preProtocol)
	l.pending.Replace(prePending)
	return nil
}

// dispatchNoClient implements spec.md §4.F's NoClient branch.
func (l *Lambda) dispatchNoClient(ctx context.Context, op opstream.SequencedOp) error {
	if op.ReferenceSequenceNumber != op.SequenceNumber || op.MinimumSequenceNumber != op.SequenceNumber {
		return fmt.Errorf("NoClient op %d has inconsistent refSeq/msn (%d/%d)",
			op.SequenceNumber, op.ReferenceSequenceNumber, op.MinimumSequenceNumber)
	}

	l.noActiveClients = true
	l.globalCheckpointOnly = true

	var skip = l.isEphemeral || (l.tenants != nil && !l.config.DisableTransientTenantFiltering && l.tenants.IsExcluded(l.tenantId))
	if !l.config.GenerateServiceSummary || skip {
		return nil
	}

	handle, err := l.writer.WriteServiceSummary(op, l.protocolHead, l.checkpointView(), l.pending.ToSlice())
	if err != nil {
		if l.config.IgnoreStorageException {
			l.logf(telemetry.LevelWarn, "service summary write failed, ignoring", "error", err)
			return nil
		}
		return l.markCorrupt(ctx, fmt.Errorf("writing service summary: %w", err))
	}

	if err := l.send(opstream.NewControlOp(opstream.UpdateDSNContents{
		Type:                  opstream.UpdateDSN,
		IsClientSummary:       false,
		DurableSequenceNumber: l.protocolHead,
		ClearCache:            l.config.ClearCacheAfterServiceSummary,
	})); err != nil {
		return err
	}

	l.lastSummarySequenceNumber = op.SequenceNumber
	l.validParentSummaries = append(l.validParentSummaries, handle)
	var max = l.config.MaxTrackedServiceSummaryVersionsSinceLastClientSummary
	if max > 0 && len(l.validParentSummaries) > max {
		l.validParentSummaries = l.validParentSummaries[len(l.validParentSummaries)-max:]
	}
	return nil
}

// dispatchSummaryAck implements spec.md §4.F's SummaryAck branch.
func (l *Lambda) dispatchSummaryAck(op opstream.SequencedOp) error {
	var contents opstream.SummaryAckContents
	var decodeErr error
	if !op.Data.Empty() {
		decodeErr = op.Data.Decode(&contents)
	} else {
		decodeErr = op.Contents.Decode(&contents)
	}
	if decodeErr != nil {
		return fmt.Errorf("decoding SummaryAck contents: %w", decodeErr)
	}

	l.lastClientSummaryHead = contents.Handle
	l.validParentSummaries = nil

	if l.writer != nil && l.writer.IsExternal() {
		l.protocolHead = contents.SummaryProposal.SummarySequenceNumber
		l.lastSummarySequenceNumber = l.protocolHead
	}
	return nil
}

func (l *Lambda) send(op opstream.SequencedOp) error {
	if l.producer == nil {
		return nil
	}
	return l.producer.Send(l.tenantId, l.documentId, op)
}

func (l *Lambda) logf(level telemetry.Level, message string, fields ...interface{}) {
	if l.publisher == nil {
		return
	}
	telemetry.PublishLog(l.publisher, level, message, fields...)
}
