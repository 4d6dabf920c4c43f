package pendingops_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/scribe/internal/opstream"
	"github.com/estuary/scribe/internal/pendingops"
)

func op(seq uint64) opstream.SequencedOp {
	return opstream.SequencedOp{SequenceNumber: seq, Type: opstream.TypeOp}
}

func TestBufferOrderingInvariant(t *testing.T) {
	var b pendingops.Buffer
	require.NoError(t, b.PushBack(op(1)))
	require.NoError(t, b.PushBack(op(2)))
	require.Error(t, b.PushBack(op(2)))
	require.Error(t, b.PushBack(op(1)))

	front, ok := b.PeekFront()
	require.True(t, ok)
	require.EqualValues(t, 1, front.SequenceNumber)

	back, ok := b.PeekBack()
	require.True(t, ok)
	require.EqualValues(t, 2, back.SequenceNumber)
}

func TestBufferDrainToIsInclusiveAndOrdered(t *testing.T) {
	var b pendingops.Buffer
	for _, s := range []uint64{1, 2, 3, 4, 5} {
		require.NoError(t, b.PushBack(op(s)))
	}

	var drained = b.DrainTo(3)
	require.Len(t, drained, 3)
	require.EqualValues(t, 1, drained[0].SequenceNumber)
	require.EqualValues(t, 3, drained[2].SequenceNumber)
	require.Equal(t, 2, b.Len())

	front, _ := b.PeekFront()
	require.EqualValues(t, 4, front.SequenceNumber)
}

func TestBufferReplaceRollsBack(t *testing.T) {
	var b pendingops.Buffer
	require.NoError(t, b.PushBack(op(1)))
	require.NoError(t, b.PushBack(op(2)))

	var snapshot = b.ToSlice()
	require.NoError(t, b.PushBack(op(3)))
	require.Equal(t, 3, b.Len())

	b.Replace(snapshot)
	require.Equal(t, 2, b.Len())
	back, _ := b.PeekBack()
	require.EqualValues(t, 2, back.SequenceNumber)
}

func TestCheckpointMessagesEvictsBelowFloor(t *testing.T) {
	var c = pendingops.NewCheckpointMessages(3)
	for _, s := range []uint64{1, 2, 3, 4, 5} {
		c.Insert(op(s), 0)
	}
	// maxLen=3, lastInserted=5 => floor=2; entries with seq<=2 evicted.
	require.Equal(t, 3, c.Len())
	min, ok := c.Min()
	require.True(t, ok)
	require.EqualValues(t, 3, min)
}

func TestCheckpointMessagesRespectsProtocolHeadFloor(t *testing.T) {
	var c = pendingops.NewCheckpointMessages(100)
	for _, s := range []uint64{1, 2, 3, 4, 5} {
		c.Insert(op(s), 3)
	}
	min, ok := c.Min()
	require.True(t, ok)
	require.EqualValues(t, 4, min)
}
