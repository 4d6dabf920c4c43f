// Package pendingops implements the Pending Op Buffer (spec.md §4.B) and
// the Pending Message Reader used for sequence-gap recovery (spec.md
// §4.F.3.2), backed by an embedded RocksDB column family the way the
// teacher's go.mod carries jgraettinger/gorocksdb for exactly this kind
// of local, range-scannable op log.
package pendingops

import (
	"fmt"

	"github.com/estuary/scribe/internal/opstream"
)

// Buffer is the ordered, in-memory FIFO of ops with sequence numbers
// greater than the Protocol Handler's current sequence number. Sequence
// numbers held in the buffer are strictly increasing.
type Buffer struct {
	ops []opstream.SequencedOp
}

// PushBack appends op to the tail of the buffer. It is the caller's
// responsibility to ensure strictly increasing sequence numbers; PushBack
// returns an error instead of silently accepting a duplicate or
// out-of-order sequence number. Gaps between sequence numbers are accepted.
func (b *Buffer) PushBack(op opstream.SequencedOp) error {
	if len(b.ops) > 0 && op.SequenceNumber <= b.ops[len(b.ops)-1].SequenceNumber {
		return fmt.Errorf("pending op buffer: non-monotonic push of seq %d after %d",
			op.SequenceNumber, b.ops[len(b.ops)-1].SequenceNumber)
	}
	b.ops = append(b.ops, op)
	return nil
}

// PopFront removes and returns the first op in the buffer.
func (b *Buffer) PopFront() (opstream.SequencedOp, bool) {
	if len(b.ops) == 0 {
		return opstream.SequencedOp{}, false
	}
	var op = b.ops[0]
	b.ops = b.ops[1:]
	return op, true
}

// PeekFront returns the first op without removing it.
func (b *Buffer) PeekFront() (opstream.SequencedOp, bool) {
	if len(b.ops) == 0 {
		return opstream.SequencedOp{}, false
	}
	return b.ops[0], true
}

// PeekBack returns the last op without removing it.
func (b *Buffer) PeekBack() (opstream.SequencedOp, bool) {
	if len(b.ops) == 0 {
		return opstream.SequencedOp{}, false
	}
	return b.ops[len(b.ops)-1], true
}

// Len returns the number of ops currently buffered.
func (b *Buffer) Len() int { return len(b.ops) }

// ToSlice returns a copy of the buffer's contents in order.
func (b *Buffer) ToSlice() []opstream.SequencedOp {
	var out = make([]opstream.SequencedOp, len(b.ops))
	copy(out, b.ops)
	return out
}

// Replace overwrites the buffer's contents wholesale, used to roll back
// to a pre-summary-attempt snapshot (spec.md §4.F Summarize/Nack path).
func (b *Buffer) Replace(ops []opstream.SequencedOp) {
	b.ops = append(b.ops[:0], ops...)
}

// DrainTo removes and returns every buffered op with SequenceNumber <=
// throughSeq, in order. Used when the MSN watermark advances and the
// Scribe Lambda must feed newly-eligible ops into the Protocol Handler.
func (b *Buffer) DrainTo(throughSeq uint64) []opstream.SequencedOp {
	var i = 0
	for i < len(b.ops) && b.ops[i].SequenceNumber <= throughSeq {
		i++
	}
	var drained = make([]opstream.SequencedOp, i)
	copy(drained, b.ops[:i])
	b.ops = b.ops[i:]
	return drained
}
