package checkpoint_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/scribe/internal/checkpoint"
	"github.com/estuary/scribe/internal/opstream"
)

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
	fail    bool
}

func (a *fakeAcker) Checkpoint(offset int64, _ string, _ bool) error {
	if a.fail {
		return fmt.Errorf("injected ack failure")
	}
	a.mu.Lock()
	a.offsets = append(a.offsets, offset)
	a.mu.Unlock()
	return nil
}

func TestWriteAcknowledgesOnlyAfterCheckpointSucceeds(t *testing.T) {
	var global, local = newFakeStore(), newFakeStore()
	var ops = &fakeAppender{}
	var acker = &fakeAcker{}
	var m = checkpoint.NewManager(global, local, ops, acker, false)

	var result = m.Write(context.Background(), "doc-1", checkpoint.WriteRequest{
		Checkpoint: checkpoint.ScribeCheckpoint{SequenceNumber: 2, LogOffset: 10},
		Offset:     10,
		Partition:  "p0",
		GlobalOnly: true,
	})

	require.NoError(t, result.Err)
	require.EqualValues(t, 10, result.AckOffset)
	require.Equal(t, []int64{10}, acker.offsets)

	cp, ok, err := global.ReadCheckpoint(context.Background(), "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, cp.SequenceNumber)
}

func TestWriteSkipsAckWhenCheckpointFails(t *testing.T) {
	var global, local = newFakeStore(), newFakeStore()
	global.fail = true
	var ops = &fakeAppender{}
	var acker = &fakeAcker{}
	var m = checkpoint.NewManager(global, local, ops, acker, false)

	var result = m.Write(context.Background(), "doc-1", checkpoint.WriteRequest{
		Checkpoint: checkpoint.ScribeCheckpoint{SequenceNumber: 2},
		Offset:     10,
		GlobalOnly: true,
	})

	require.Error(t, result.Err)
	require.EqualValues(t, -1, result.AckOffset)
	require.Empty(t, acker.offsets)
}

func TestIsGlobalSelectionRule(t *testing.T) {
	require.True(t, checkpoint.WriteRequest{NoActiveClients: true}.IsGlobal())
	require.True(t, checkpoint.WriteRequest{GlobalOnly: true}.IsGlobal())
	require.False(t, checkpoint.WriteRequest{}.IsGlobal())
}

func TestWriteUsesLocalStoreWhenNotGlobal(t *testing.T) {
	var global, local = newFakeStore(), newFakeStore()
	var ops = &fakeAppender{}
	var acker = &fakeAcker{}
	var m = checkpoint.NewManager(global, local, ops, acker, false)

	_, ok := global.byDoc["doc-1"]
	require.False(t, ok)

	var result = m.Write(context.Background(), "doc-1", checkpoint.WriteRequest{
		Checkpoint: checkpoint.ScribeCheckpoint{SequenceNumber: 1},
		Offset:     1,
	})
	require.NoError(t, result.Err)

	_, globalOk, _ := global.ReadCheckpoint(context.Background(), "doc-1")
	_, localOk, _ := local.ReadCheckpoint(context.Background(), "doc-1")
	require.False(t, globalOk)
	require.True(t, localOk)
}

func TestWriteAfterCloseFails(t *testing.T) {
	var global, local = newFakeStore(), newFakeStore()
	var m = checkpoint.NewManager(global, local, &fakeAppender{}, &fakeAcker{}, false)
	m.Close()

	var result = m.Write(context.Background(), "doc-1", checkpoint.WriteRequest{})
	require.Error(t, result.Err)
}
