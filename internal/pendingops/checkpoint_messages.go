package pendingops

import "github.com/estuary/scribe/internal/opstream"

// CheckpointMessages is the ordered buffer of ops awaiting attachment to
// the next summary's logtail (spec.md §3 "Pending Checkpoint Messages"),
// capped at maxLen and evicted relative to max(protocolHead, lastInserted
// - maxLen) (spec.md testable property #6).
type CheckpointMessages struct {
	maxLen int
	ops    []opstream.SequencedOp
}

// NewCheckpointMessages constructs a tracker capped at maxLen entries.
func NewCheckpointMessages(maxLen int) *CheckpointMessages {
	return &CheckpointMessages{maxLen: maxLen}
}

// Insert appends op and evicts anything now older than the retention
// floor relative to protocolHead and the newly-inserted sequence number.
func (c *CheckpointMessages) Insert(op opstream.SequencedOp, protocolHead uint64) {
	c.ops = append(c.ops, op)
	c.evict(protocolHead, op.SequenceNumber)
}

func (c *CheckpointMessages) evict(protocolHead, lastInserted uint64) {
	var floor = protocolHead
	if c.maxLen > 0 && lastInserted > uint64(c.maxLen) && lastInserted-uint64(c.maxLen) > floor {
		floor = lastInserted - uint64(c.maxLen)
	}
	var i = 0
	for i < len(c.ops) && c.ops[i].SequenceNumber <= floor {
		i++
	}
	c.ops = c.ops[i:]
}

// Len returns the number of currently-retained ops.
func (c *CheckpointMessages) Len() int { return len(c.ops) }

// ToSlice returns the retained ops in order, for attachment to a
// summary's logtail.
func (c *CheckpointMessages) ToSlice() []opstream.SequencedOp {
	var out = make([]opstream.SequencedOp, len(c.ops))
	copy(out, c.ops)
	return out
}

// Min returns the smallest retained sequence number and whether any
// entry is retained at all.
func (c *CheckpointMessages) Min() (uint64, bool) {
	if len(c.ops) == 0 {
		return 0, false
	}
	return c.ops[0].SequenceNumber, true
}
