package scribe

import (
	"context"
	"fmt"
	"time"

	"github.com/estuary/scribe/internal/checkpoint"
	"github.com/estuary/scribe/internal/opstream"
)

// checkpointAfterBatch implements spec.md §4.F step 4: decide a
// checkpoint Reason from the heuristics, and either fire it immediately
// or arm the deferred idle-time checkpoint.
func (l *Lambda) checkpointAfterBatch(ctx context.Context, opCount int) error {
	l.decider.ObserveBatch(uint64(opCount))

	var reason = l.decider.Decide(l.isCorrupt, l.noActiveClients)
	if l.noActiveClients {
		l.globalCheckpointOnly = true
	}

	if reason == checkpoint.ReasonIdleTime {
		l.decider.ArmIdleTimer(func() {
			_ = l.fireCheckpoint(context.Background(), checkpoint.ReasonIdleTime)
		})
		return nil
	}

	l.decider.CancelIdleTimer()
	return l.fireCheckpoint(ctx, reason)
}

// fireCheckpoint builds a WriteRequest from the Lambda's current state
// and hands it to the Checkpoint Manager. mu guards this snapshot against
// a concurrently-firing idle timer from a previous batch.
func (l *Lambda) fireCheckpoint(ctx context.Context, reason checkpoint.Reason) error {
	// types.TimestampProto only errors for times outside its representable
	// range, which time.Now() never produces; same infallible-in-practice
	// treatment as go/runtime/task.go's intervalStats.
	var ts, tsErr = opstream.Timestamp(time.Now())
	if tsErr != nil {
		panic(tsErr)
	}

	l.mu.Lock()
	var req = checkpoint.WriteRequest{
		Checkpoint: checkpoint.ScribeCheckpoint{
			SequenceNumber:            l.sequenceNumber,
			MinimumSequenceNumber:     l.minimumSequenceNumber,
			ProtocolState:             l.protocol.State(l.scrubForCheckpoint()),
			LogOffset:                 l.lastOffset,
			LastSummarySequenceNumber: l.lastSummarySequenceNumber,
			LastClientSummaryHead:     l.lastClientSummaryHead,
			ValidParentSummaries:      append([]string(nil), l.validParentSummaries...),
			ProtocolHead:              l.protocolHead,
			CheckpointTimestamp:       ts,
		},
		ProtocolHead:    l.protocolHead,
		OpsToInsert:     l.chkptMsgs.ToSlice(),
		NoActiveClients: l.noActiveClients,
		GlobalOnly:      l.globalCheckpointOnly,
		IsCorrupt:       l.isCorrupt,
		ClearCache:      false,
		SkipAck:         reason == checkpoint.ReasonMarkAsCorrupt,
		Offset:          l.lastOffset,
		Partition:       l.partition,
	}
	var documentId = l.documentId
	l.mu.Unlock()

	if l.summaryCache != nil {
		l.summaryCache.Record(documentId, req.Checkpoint.ValidParentSummaries)
	}

	var result = l.checkpoints.Write(ctx, documentId, req)
	if result.Err != nil {
		if l.metrics != nil {
			l.metrics.CheckpointOutcomes.WithLabelValues(reason.String(), "error").Inc()
		}
		return fmt.Errorf("writing checkpoint (%s): %w", reason, result.Err)
	}
	if l.metrics != nil {
		l.metrics.CheckpointOutcomes.WithLabelValues(reason.String(), "ok").Inc()
	}
	l.decider.RecordCheckpoint()
	return nil
}

// scrubForCheckpoint picks the scrub flag matching whether this
// checkpoint is global or local, per spec.md §6's separate
// scrubUserDataInGlobalCheckpoints/scrubUserDataInLocalCheckpoints knobs.
func (l *Lambda) scrubForCheckpoint() bool {
	if l.globalCheckpointOnly || l.noActiveClients {
		return l.config.ScrubUserDataInGlobalCheckpoints
	}
	return l.config.ScrubUserDataInLocalCheckpoints
}
