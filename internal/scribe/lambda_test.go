package scribe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/scribe/internal/checkpoint"
	"github.com/estuary/scribe/internal/opstream"
	"github.com/estuary/scribe/internal/scribe"
	"github.com/estuary/scribe/internal/summary"
)

// --- fakes mirroring internal/checkpoint's manager_test.go style ---

type fakeStore struct {
	mu    sync.Mutex
	byDoc map[string]checkpoint.ScribeCheckpoint
	fail  bool
}

func newFakeStore() *fakeStore { return &fakeStore{byDoc: map[string]checkpoint.ScribeCheckpoint{}} }

func (f *fakeStore) UpdateCheckpoint(_ context.Context, documentId string, cp checkpoint.ScribeCheckpoint) error {
	if f.fail {
		return fmt.Errorf("injected failure")
	}
	f.mu.Lock()
	f.byDoc[documentId] = cp
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) DeleteCheckpoint(_ context.Context, documentId string, _ uint64, _ bool) error {
	f.mu.Lock()
	delete(f.byDoc, documentId)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) ReadCheckpoint(_ context.Context, documentId string) (checkpoint.ScribeCheckpoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.byDoc[documentId]
	return cp, ok, nil
}

func (f *fakeStore) get(documentId string) (checkpoint.ScribeCheckpoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.byDoc[documentId]
	return cp, ok
}

type fakeAppender struct {
	mu  sync.Mutex
	ops []opstream.SequencedOp
}

func (a *fakeAppender) Append(op opstream.SequencedOp) error {
	a.mu.Lock()
	a.ops = append(a.ops, op)
	a.mu.Unlock()
	return nil
}

type fakeAcker struct {
	mu      sync.Mutex
	offsets []int64
}

func (a *fakeAcker) Checkpoint(offset int64, _ string, _ bool) error {
	a.mu.Lock()
	a.offsets = append(a.offsets, offset)
	a.mu.Unlock()
	return nil
}

func (a *fakeAcker) acked() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.offsets...)
}

// --- fakes for the scribe-specific collaborators ---

type fakeProducer struct {
	mu   sync.Mutex
	sent []opstream.SequencedOp
}

func (p *fakeProducer) Send(_, _ string, op opstream.SequencedOp) error {
	p.mu.Lock()
	p.sent = append(p.sent, op)
	p.mu.Unlock()
	return nil
}

func (p *fakeProducer) types() []opstream.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []opstream.Type
	for _, op := range p.sent {
		out = append(out, op.Type)
	}
	return out
}

type fakeReader struct {
	ops []opstream.SequencedOp
}

func (r *fakeReader) ReadMessages(fromSeq, toSeq uint64) ([]opstream.SequencedOp, error) {
	var out []opstream.SequencedOp
	for _, op := range r.ops {
		if op.SequenceNumber >= fromSeq && op.SequenceNumber <= toSeq {
			out = append(out, op)
		}
	}
	return out, nil
}

type fakeWriter struct {
	isExternal bool

	clientResult summary.ClientSummaryResult
	clientErr    error

	serviceHandle string
	serviceErr    error
}

func (w *fakeWriter) IsExternal() bool { return w.isExternal }

func (w *fakeWriter) WriteClientSummary(opstream.SequencedOp, string, summary.ScribeCheckpointView, []opstream.SequencedOp, bool) (summary.ClientSummaryResult, error) {
	return w.clientResult, w.clientErr
}

func (w *fakeWriter) WriteServiceSummary(opstream.SequencedOp, uint64, summary.ScribeCheckpointView, []opstream.SequencedOp) (string, error) {
	return w.serviceHandle, w.serviceErr
}

// harness bundles a fresh Lambda plus its fakes so each test can assert on
// producer emissions and persisted checkpoint state.
type harness struct {
	global, local *fakeStore
	ops           *fakeAppender
	acker         *fakeAcker
	producer      *fakeProducer
	reader        *fakeReader
	writer        *fakeWriter

	documentId string
	lambda     *scribe.Lambda
}

// noHeuristics disables time/message-based deferral so every batch fires a
// checkpoint synchronously, matching each scenario's "one checkpoint write"
// expectation without needing to wait out a timer.
func noHeuristics() checkpoint.Heuristics { return checkpoint.Heuristics{Enable: false} }

func newHarness(t *testing.T, seed checkpoint.ScribeCheckpoint, configure func(*scribe.Config, *fakeWriter)) *harness {
	t.Helper()
	var h = &harness{
		global:     newFakeStore(),
		local:      newFakeStore(),
		ops:        &fakeAppender{},
		acker:      &fakeAcker{},
		producer:   &fakeProducer{},
		reader:     &fakeReader{},
		writer:     &fakeWriter{},
		documentId: "doc-1",
	}
	var cfg = scribe.DefaultConfig()
	cfg.Heuristics = noHeuristics()
	if configure != nil {
		configure(&cfg, h.writer)
	}

	var manager = checkpoint.NewManager(h.global, h.local, h.ops, h.acker, cfg.RestartOnCheckpointFailure)
	h.lambda = scribe.NewLambda("tenant-1", h.documentId, false, seed, cfg, scribe.Collaborators{
		Checkpoints: manager,
		Writer:      h.writer,
		Reader:      h.reader,
		Producer:    h.producer,
	})
	return h
}

func opAt(seq, msn uint64, typ opstream.Type) opstream.SequencedOp {
	return opstream.SequencedOp{SequenceNumber: seq, MinimumSequenceNumber: msn, Type: typ}
}

// S1 - Cold start and two ops.
func TestColdStartTwoOps(t *testing.T) {
	var seed = checkpoint.ScribeCheckpoint{LogOffset: -1}
	var h = newHarness(t, seed, nil)

	var err = h.lambda.Handle(context.Background(), opstream.Batch{
		Offset:    10,
		Partition: "p0",
		Contents: []opstream.SequencedOp{
			opAt(1, 0, opstream.TypeOp),
			opAt(2, 1, opstream.TypeOp),
		},
	})
	require.NoError(t, err)

	var cp, ok = h.local.get(h.documentId)
	require.True(t, ok)
	require.EqualValues(t, 2, cp.SequenceNumber)
	require.EqualValues(t, 1, cp.MinimumSequenceNumber)
	require.EqualValues(t, 10, cp.LogOffset)
	require.Equal(t, []int64{10}, h.acker.acked())
}

// S2 - Successful client summary.
func TestSuccessfulClientSummaryAdvancesProtocolHead(t *testing.T) {
	var h = newHarness(t, checkpoint.ScribeCheckpoint{LogOffset: -1}, func(cfg *scribe.Config, w *fakeWriter) {
		w.clientResult = summary.ClientSummaryResult{
			Status: true,
			Ack:    &summary.Ack{Handle: "H1", SummarySequenceNumber: 3},
		}
	})

	// Drains two plain ops so the protocol handler has real state to
	// advance through, then summarizes against that state.
	require.NoError(t, h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 1, Partition: "p0",
		Contents: []opstream.SequencedOp{opAt(1, 0, opstream.TypeOp), opAt(2, 1, opstream.TypeOp)},
	}))

	var summarize = opstream.SequencedOp{SequenceNumber: 3, ReferenceSequenceNumber: 2, MinimumSequenceNumber: 1, Type: opstream.TypeSummarize}
	require.NoError(t, h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 2, Partition: "p0", Contents: []opstream.SequencedOp{summarize},
	}))

	require.Equal(t, []opstream.Type{opstream.TypeSummaryAck, opstream.TypeControl}, h.producer.types())

	var cp, ok = h.local.get(h.documentId)
	require.True(t, ok)
	require.EqualValues(t, 2, cp.ProtocolHead)
	require.EqualValues(t, 2, cp.LastSummarySequenceNumber)
	require.Equal(t, "H1", cp.LastClientSummaryHead)
	require.Empty(t, cp.ValidParentSummaries)
}

// S3 - Nacked client summary rolls back.
func TestNackedClientSummaryRollsBack(t *testing.T) {
	var h = newHarness(t, checkpoint.ScribeCheckpoint{LogOffset: -1}, func(cfg *scribe.Config, w *fakeWriter) {
		w.clientResult = summary.ClientSummaryResult{
			Status: false,
			Nack:   &summary.Nack{Message: "stale parent", SummarySequenceNumber: 3},
		}
	})

	require.NoError(t, h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 1, Partition: "p0",
		Contents: []opstream.SequencedOp{opAt(1, 0, opstream.TypeOp), opAt(2, 1, opstream.TypeOp)},
	}))

	var summarize = opstream.SequencedOp{SequenceNumber: 3, ReferenceSequenceNumber: 2, MinimumSequenceNumber: 1, Type: opstream.TypeSummarize}
	require.NoError(t, h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 2, Partition: "p0", Contents: []opstream.SequencedOp{summarize},
	}))

	require.Equal(t, []opstream.Type{opstream.TypeSummaryNack}, h.producer.types())

	var cp, ok = h.local.get(h.documentId)
	require.True(t, ok)
	require.EqualValues(t, 0, cp.ProtocolHead)
	require.Empty(t, cp.LastClientSummaryHead)
}

// S4 - NoClient triggers service summary.
func TestNoClientTriggersServiceSummary(t *testing.T) {
	var h = newHarness(t, checkpoint.ScribeCheckpoint{LogOffset: -1}, func(cfg *scribe.Config, w *fakeWriter) {
		cfg.GenerateServiceSummary = true
		w.serviceHandle = "S1"
	})

	var noClient = opstream.SequencedOp{SequenceNumber: 20, ReferenceSequenceNumber: 20, MinimumSequenceNumber: 20, Type: opstream.TypeNoClient}
	require.NoError(t, h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 1, Partition: "p0", Contents: []opstream.SequencedOp{noClient},
	}))

	require.Equal(t, []opstream.Type{opstream.TypeControl}, h.producer.types())

	// NoClient forces globalCheckpointOnly, so the write must land in the
	// global store, not the partition-local one.
	var cp, ok = h.global.get(h.documentId)
	require.True(t, ok)
	require.Equal(t, []string{"S1"}, cp.ValidParentSummaries)

	_, localOk := h.local.get(h.documentId)
	require.False(t, localOk)
}

// S5 - Sequence gap healed via the Pending Message Reader.
func TestSequenceGapHealed(t *testing.T) {
	var h = newHarness(t, checkpoint.ScribeCheckpoint{LogOffset: -1}, nil)

	require.NoError(t, h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 1, Partition: "p0",
		Contents: []opstream.SequencedOp{
			opAt(1, 1, opstream.TypeOp), opAt(2, 2, opstream.TypeOp),
			opAt(3, 3, opstream.TypeOp), opAt(4, 4, opstream.TypeOp),
		},
	}))

	h.reader.ops = []opstream.SequencedOp{opAt(5, 5, opstream.TypeOp), opAt(6, 6, opstream.TypeOp)}

	require.NoError(t, h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 2, Partition: "p0", Contents: []opstream.SequencedOp{opAt(7, 7, opstream.TypeOp)},
	}))

	var cp, ok = h.local.get(h.documentId)
	require.True(t, ok)
	require.EqualValues(t, 7, cp.SequenceNumber)
	require.EqualValues(t, 7, cp.MinimumSequenceNumber)
}

// S6 - Duplicate batch reprocess.
func TestDuplicateBatchReprocess(t *testing.T) {
	var h = newHarness(t, checkpoint.ScribeCheckpoint{LogOffset: 100}, nil)

	require.NoError(t, h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 80, Partition: "p0", Contents: []opstream.SequencedOp{opAt(1, 0, opstream.TypeOp)},
	}))

	require.Empty(t, h.producer.types())
	_, localOk := h.local.get(h.documentId)
	_, globalOk := h.global.get(h.documentId)
	require.False(t, localOk)
	require.False(t, globalOk)
	require.Empty(t, h.acker.acked())
}

func TestDuplicateBatchReprocessAcksWhenConfigured(t *testing.T) {
	var h = newHarness(t, checkpoint.ScribeCheckpoint{LogOffset: 100}, func(cfg *scribe.Config, w *fakeWriter) {
		cfg.KafkaCheckpointOnReprocessingOp = true
	})

	require.NoError(t, h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 80, Partition: "p0", Contents: []opstream.SequencedOp{opAt(1, 0, opstream.TypeOp)},
	}))

	require.Equal(t, []int64{80}, h.acker.acked())
}

// Property: validParentSummaries never exceeds its configured cap (spec.md
// §8 invariant 5), even as repeated NoClient service summaries accumulate.
func TestValidParentSummariesStaysCapped(t *testing.T) {
	var h = newHarness(t, checkpoint.ScribeCheckpoint{LogOffset: -1}, func(cfg *scribe.Config, w *fakeWriter) {
		cfg.GenerateServiceSummary = true
		cfg.MaxTrackedServiceSummaryVersionsSinceLastClientSummary = 2
	})

	for i, seq := range []uint64{10, 20, 30, 40} {
		h.writer.serviceHandle = fmt.Sprintf("S%d", i)
		require.NoError(t, h.lambda.Handle(context.Background(), opstream.Batch{
			Offset: int64(i + 1), Partition: "p0",
			Contents: []opstream.SequencedOp{{SequenceNumber: seq, ReferenceSequenceNumber: seq, MinimumSequenceNumber: seq, Type: opstream.TypeNoClient}},
		}))
	}

	var cp, ok = h.global.get(h.documentId)
	require.True(t, ok)
	require.Len(t, cp.ValidParentSummaries, 2)
	require.Equal(t, []string{"S2", "S3"}, cp.ValidParentSummaries)
}

// Property: a checkpoint write failure prevents the paired upstream
// acknowledgement (spec.md §8 invariant 3 / §5 ordering guarantee).
func TestCheckpointFailurePreventsAcknowledgement(t *testing.T) {
	var h = newHarness(t, checkpoint.ScribeCheckpoint{LogOffset: -1}, nil)
	h.local.fail = true

	var err = h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 10, Partition: "p0", Contents: []opstream.SequencedOp{opAt(1, 0, opstream.TypeOp)},
	})
	require.Error(t, err)
	require.Empty(t, h.acker.acked())
}

// Property: a storage exception during service-summary writing (with
// ignoreStorageException unset) marks the document corrupt and forces an
// unacknowledged checkpoint rather than silently continuing (spec.md §7's
// TransientStorageFailure/rethrow policy).
func TestServiceSummaryFailureMarksCorruptAndSkipsAck(t *testing.T) {
	var h = newHarness(t, checkpoint.ScribeCheckpoint{LogOffset: -1}, func(cfg *scribe.Config, w *fakeWriter) {
		cfg.GenerateServiceSummary = true
		w.serviceErr = fmt.Errorf("bucket unavailable")
	})

	var noClient = opstream.SequencedOp{SequenceNumber: 20, ReferenceSequenceNumber: 20, MinimumSequenceNumber: 20, Type: opstream.TypeNoClient}
	var err = h.lambda.Handle(context.Background(), opstream.Batch{
		Offset: 1, Partition: "p0", Contents: []opstream.SequencedOp{noClient},
	})
	require.Error(t, err)

	// The forced MarkAsCorrupt checkpoint must have skipped the ack, even
	// though the checkpoint write itself succeeded.
	require.Empty(t, h.acker.acked())
	var cp, ok = h.global.get(h.documentId)
	require.True(t, ok)
	require.True(t, cp.IsCorrupt)
}
