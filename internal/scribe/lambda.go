// Package scribe implements the Scribe Lambda orchestrator (spec.md
// §4.F): the per-document entry point that consumes batches, drives the
// Protocol Handler, Pending Op Buffer, Checkpoint Manager, and Summary
// Writer, and decides when to persist durable progress.
package scribe

import (
	"context"
	"fmt"
	"sync"

	"github.com/estuary/scribe/internal/checkpoint"
	"github.com/estuary/scribe/internal/opstream"
	"github.com/estuary/scribe/internal/pendingops"
	"github.com/estuary/scribe/internal/protocolstate"
	"github.com/estuary/scribe/internal/summary"
	"github.com/estuary/scribe/internal/telemetry"
	"github.com/estuary/scribe/internal/tenantfilter"
)

// CloseReason names why a Lambda's document session ended, per spec.md
// §6 close(reason).
type CloseReason string

const (
	CloseRebalance CloseReason = "rebalance"
	CloseError     CloseReason = "error"
	CloseShutdown  CloseReason = "shutdown"
	CloseStop      CloseReason = "stop"
)

// Lambda is the per-document Scribe partition worker. Exactly one
// instance exists per active document, and Handle must be called
// strictly sequentially for a given instance (spec.md §5).
type Lambda struct {
	tenantId    string
	documentId  string
	isEphemeral bool
	config      Config

	protocol  *protocolstate.Handler
	pending   *pendingops.Buffer
	chkptMsgs *pendingops.CheckpointMessages

	checkpoints  *checkpoint.Manager
	decider      *checkpoint.Decider
	writer       summary.Writer
	reader       PendingMessageReader
	producer     Producer
	tenants      *tenantfilter.Filter
	publisher    telemetry.Publisher
	metrics      *telemetry.Metrics
	summaryCache SummaryCache

	lastOffset                int64
	partition                 string
	sequenceNumber            uint64
	minimumSequenceNumber     uint64
	protocolHead              uint64
	lastSummarySequenceNumber uint64
	lastClientSummaryHead     string
	validParentSummaries      []string
	noActiveClients           bool
	globalCheckpointOnly      bool
	isCorrupt                 bool
	closed                    bool

	mu sync.Mutex
}

// Collaborators bundles the external dependencies a Lambda needs beyond
// its Config, grounded on spec.md §6's interface list.
type Collaborators struct {
	Checkpoints *checkpoint.Manager
	Writer      summary.Writer
	Reader      PendingMessageReader
	Producer    Producer
	Tenants     *tenantfilter.Filter
	Publisher   telemetry.Publisher
	Metrics     *telemetry.Metrics
	Cache       SummaryCache
}

// NewLambda constructs a Lambda seeded from a previously-persisted
// ScribeCheckpoint (spec.md's Lifecycle paragraph: a zero-valued seed
// starts a fresh document).
func NewLambda(tenantId, documentId string, isEphemeral bool, seed checkpoint.ScribeCheckpoint, cfg Config, collab Collaborators) *Lambda {
	var l = &Lambda{
		tenantId:                  tenantId,
		documentId:                documentId,
		isEphemeral:               isEphemeral,
		config:                    cfg,
		protocol:                  protocolstate.New(seed.ProtocolState),
		pending:                   &pendingops.Buffer{},
		chkptMsgs:                 pendingops.NewCheckpointMessages(cfg.MaxPendingCheckpointMessagesLength),
		checkpoints:               collab.Checkpoints,
		decider:                   checkpoint.NewDecider(cfg.Heuristics),
		writer:                    collab.Writer,
		reader:                    collab.Reader,
		producer:                  collab.Producer,
		tenants:                   collab.Tenants,
		publisher:                 collab.Publisher,
		metrics:                   collab.Metrics,
		summaryCache:              collab.Cache,
		lastOffset:                seed.LogOffset,
		sequenceNumber:            seed.SequenceNumber,
		minimumSequenceNumber:     seed.MinimumSequenceNumber,
		protocolHead:              seed.ProtocolHead,
		lastSummarySequenceNumber: seed.LastSummarySequenceNumber,
		lastClientSummaryHead:     seed.LastClientSummaryHead,
		validParentSummaries:      append([]string(nil), seed.ValidParentSummaries...),
		isCorrupt:                 seed.IsCorrupt,
	}
	if l.metrics != nil {
		l.metrics.SessionsStarted.Inc()
	}
	return l
}

// Handle processes one batch, per spec.md §4.F's full algorithm.
func (l *Lambda) Handle(ctx context.Context, batch opstream.Batch) error {
	if l.closed {
		return ErrClosed
	}

	// Step 1: duplicate filter.
	if batch.Offset <= l.lastOffset {
		if l.metrics != nil {
			l.metrics.OpsReprocessed.Add(float64(len(batch.Contents)))
		}
		if l.config.KafkaCheckpointOnReprocessingOp {
			return l.ackOffset(batch.Offset, batch.Partition)
		}
		return nil
	}

	// Step 2. A new batch cancels any idle-time checkpoint armed by the
	// previous one before it fires.
	l.decider.CancelIdleTimer()
	l.lastOffset = batch.Offset
	l.partition = batch.Partition

	// Step 3: process each op in boxcar order.
	for _, op := range batch.Contents {
		if err := l.handleOp(ctx, op); err != nil {
			return err
		}
	}

	// Step 4: end-of-batch checkpoint decision.
	return l.checkpointAfterBatch(ctx, len(batch.Contents))
}

func (l *Lambda) handleOp(ctx context.Context, op opstream.SequencedOp) error {
	var lastKnown = l.lastKnownSequence()

	// 3.1: skip ops already reflected in our state (tolerates
	// partial-checkpoint re-delivery).
	if op.SequenceNumber <= l.sequenceNumber || op.SequenceNumber <= lastKnown {
		return nil
	}

	// 3.2: gap detection.
	if op.SequenceNumber != lastKnown+1 {
		if l.reader == nil {
			return fmt.Errorf("document %s: sequence gap from %d to %d: %w",
				l.documentId, lastKnown, op.SequenceNumber, ErrInvalidSequenceGap)
		}
		gapOps, err := l.reader.ReadMessages(lastKnown+1, op.SequenceNumber-1)
		if err != nil {
			return fmt.Errorf("reading pending messages for gap recovery: %w", err)
		}
		for _, gapOp := range gapOps {
			if err := l.pending.PushBack(gapOp); err != nil {
				return err
			}
		}
	}

	// 3.3: push onto the Pending Op Buffer (and optionally the Pending
	// Checkpoint Messages buffer).
	if err := l.pending.PushBack(op); err != nil {
		return err
	}
	if l.config.EnablePendingCheckpointMessages {
		l.chkptMsgs.Insert(op, l.protocolHead)
	}

	// 3.4: advance watermarks; drain into the Protocol Handler if the MSN
	// advanced.
	l.sequenceNumber = op.SequenceNumber
	if op.MinimumSequenceNumber > l.minimumSequenceNumber {
		l.minimumSequenceNumber = op.MinimumSequenceNumber
		if err := l.drainProtocolTo(l.minimumSequenceNumber); err != nil {
			return l.markCorrupt(ctx, err)
		}
	}

	// 3.5: dispatch on op type.
	return l.dispatch(ctx, op)
}

// lastKnownSequence is max(pendingBuffer.back.sequenceNumber,
// protocolHandler.sequenceNumber), per spec.md §4.F step 3.1/3.2.
func (l *Lambda) lastKnownSequence() uint64 {
	var last = l.protocol.SequenceNumber()
	if back, ok := l.pending.PeekBack(); ok && back.SequenceNumber > last {
		last = back.SequenceNumber
	}
	return last
}

// drainProtocolTo feeds every buffered op through throughSeq into the
// Protocol Handler, in order. Used both by the MSN-advance step and by
// Summarize's "advance the protocol handler to referenceSequenceNumber".
func (l *Lambda) drainProtocolTo(throughSeq uint64) error {
	if throughSeq <= l.protocol.SequenceNumber() {
		return nil
	}
	for _, op := range l.pending.DrainTo(throughSeq) {
		if err := l.protocol.ProcessMessage(op, true); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
	}
	return nil
}

// markCorrupt records that the document is corrupt, forces a
// MarkAsCorrupt checkpoint (skipping the upstream acknowledgement), and
// returns the triggering error for the caller to rethrow, per spec.md §7.
func (l *Lambda) markCorrupt(ctx context.Context, err error) error {
	l.isCorrupt = true
	if checkpointErr := l.fireCheckpoint(ctx, checkpoint.ReasonMarkAsCorrupt); checkpointErr != nil {
		l.logf(telemetry.LevelError, "failed to persist MarkAsCorrupt checkpoint", "error", checkpointErr)
	}
	return err
}

func (l *Lambda) dispatch(ctx context.Context, op opstream.SequencedOp) error {
	switch op.Type {
	case opstream.TypeSummarize:
		return l.dispatchSummarize(ctx, op)
	case opstream.TypeNoClient:
		return l.dispatchNoClient(ctx, op)
	case opstream.TypeSummaryAck:
		return l.dispatchSummaryAck(op)
	case opstream.TypeClientJoin:
		if l.config.LocalCheckpointEnabled {
			l.globalCheckpointOnly = false
		}
	}
	return nil
}

func (l *Lambda) checkpointView() summary.ScribeCheckpointView {
	return summary.ScribeCheckpointView{
		SequenceNumber:            l.sequenceNumber,
		MinimumSequenceNumber:     l.minimumSequenceNumber,
		ProtocolHead:              l.protocolHead,
		LastSummarySequenceNumber: l.lastSummarySequenceNumber,
		ValidParentSummaries:      l.validParentSummaries,
		ProtocolState:             l.protocol.State(l.config.ScrubUserDataInSummaries),
	}
}

// SetProducer rebinds the Lambda's outbound op emitter. The Application
// calls this on every ConsumeMessage, before handing the batch to Handle,
// since the framework only furnishes a fresh *message.Publisher on each
// ConsumeMessage/FinalizeTxn call and handle(batch) is never concurrent
// for a given document (spec.md §5), so rebinding here is race-free.
func (l *Lambda) SetProducer(p Producer) { l.producer = p }

// ackOffset acknowledges offset directly via the Checkpoint Manager's
// OffsetAcker, without a new checkpoint write (the reprocess-ack path).
func (l *Lambda) ackOffset(offset int64, partition string) error {
	return l.checkpoints.AckOnly(offset, partition, l.config.RestartOnCheckpointFailure)
}

// Close terminates the Lambda; any in-flight checkpoint write is allowed
// to settle, but no new work is scheduled (spec.md §4.F Close).
func (l *Lambda) Close(reason CloseReason) {
	if l.closed {
		return
	}
	if l.publisher != nil {
		telemetry.PublishLog(l.publisher, telemetry.LevelInfo, "scribe session closed",
			"reason", string(reason),
			"sequenceNumber", l.sequenceNumber,
			"protocolHead", l.protocolHead,
		)
	}
	if l.metrics != nil {
		l.metrics.SessionsClosed.WithLabelValues(string(reason)).Inc()
	}
	l.checkpoints.Close()
	l.protocol.Close()
	l.closed = true
}
