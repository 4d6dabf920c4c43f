package summary_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/scribe/internal/opstream"
	"github.com/estuary/scribe/internal/summary"
)

type fakeUploader struct {
	mu    sync.Mutex
	trees map[string]summary.Tree
}

func newFakeUploader() *fakeUploader { return &fakeUploader{trees: map[string]summary.Tree{}} }

func (f *fakeUploader) Put(_ context.Context, tree summary.Tree) (string, error) {
	var payload, _ = json.Marshal(tree)
	var handle = summary.Handle(payload)
	f.mu.Lock()
	f.trees[handle] = tree
	f.mu.Unlock()
	return handle, nil
}

func summarizeOp(seq uint64, appTreeHandle string) opstream.SequencedOp {
	var contents, _ = json.Marshal(map[string]interface{}{
		"appTreeHandle":         appTreeHandle,
		"summarySequenceNumber": seq,
	})
	var op = opstream.SequencedOp{SequenceNumber: seq, Type: opstream.TypeSummarize}
	op.Contents = opstream.EncodedContent(contents)
	return op
}

func TestWriteClientSummarySucceedsWithValidParent(t *testing.T) {
	var store = newFakeUploader()
	var w = summary.NewDocumentWriter(store, false)

	var result, err = w.WriteClientSummary(
		summarizeOp(10, "app-tree-1"),
		"parent-1",
		summary.ScribeCheckpointView{ProtocolHead: 5, ValidParentSummaries: []string{"parent-1"}},
		nil,
		false,
	)
	require.NoError(t, err)
	require.True(t, result.Status)
	require.NotNil(t, result.Ack)
	require.NotEmpty(t, result.Ack.Handle)
	require.EqualValues(t, 10, result.Ack.SummarySequenceNumber)
}

func TestWriteClientSummaryNacksStaleParent(t *testing.T) {
	var store = newFakeUploader()
	var w = summary.NewDocumentWriter(store, false)

	var result, err = w.WriteClientSummary(
		summarizeOp(10, "app-tree-1"),
		"stale-parent",
		summary.ScribeCheckpointView{ValidParentSummaries: []string{"parent-1"}},
		nil,
		false,
	)
	require.NoError(t, err)
	require.False(t, result.Status)
	require.NotNil(t, result.Nack)
	require.EqualValues(t, 10, result.Nack.SummarySequenceNumber)
}

func TestWriteClientSummaryRejectedWhenExternal(t *testing.T) {
	var w = summary.NewDocumentWriter(newFakeUploader(), true)
	require.True(t, w.IsExternal())

	var _, err = w.WriteClientSummary(summarizeOp(1, "a"), "", summary.ScribeCheckpointView{}, nil, false)
	require.Error(t, err)
}

func TestWriteServiceSummaryTruncatesLogtailAtProtocolHead(t *testing.T) {
	var store = newFakeUploader()
	var w = summary.NewDocumentWriter(store, false)

	var pending = []opstream.SequencedOp{
		{SequenceNumber: 3},
		{SequenceNumber: 4},
		{SequenceNumber: 5},
	}

	var handle, err = w.WriteServiceSummary(
		opstream.SequencedOp{Type: opstream.TypeNoClient},
		4,
		summary.ScribeCheckpointView{ValidParentSummaries: []string{"parent-1"}},
		pending,
	)
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	var tree = store.trees[handle]
	require.Len(t, tree.Logtail, 1)
	require.EqualValues(t, 5, tree.Logtail[0].SequenceNumber)
}

func TestHandleIsDeterministicForIdenticalContent(t *testing.T) {
	var a = summary.Handle([]byte("same-bytes"))
	var b = summary.Handle([]byte("same-bytes"))
	require.Equal(t, a, b)

	var c = summary.Handle([]byte("different-bytes"))
	require.NotEqual(t, a, c)
}
