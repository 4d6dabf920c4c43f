// Package protocolstate implements the pure protocol state machine
// (spec.md §4.A): membership quorum and the sequence/MSN watermarks,
// replayed from an ordered op stream. Proposals and values are carried
// over from the seed Snapshot into every State() result; ProcessMessage
// does not add, change or remove any of them.
package protocolstate

import (
	"fmt"

	"github.com/estuary/scribe/internal/opstream"
)

// JoinDetails is the client-supplied payload of a ClientJoin op.
type JoinDetails struct {
	ClientId string           `json:"clientId"`
	Detail   opstream.Content `json:"-"`
}

// Member is a connected client and the details it joined with.
type Member struct {
	ClientId       string
	SequenceNumber uint64
	Detail         JoinDetails
}

// Proposal is a pending quorum proposal keyed by its sequence number.
type Proposal struct {
	Key      string
	Value    interface{}
	Sequence uint64
}

// Snapshot is the serializable protocol state returned by State().
type Snapshot struct {
	Members               map[string]Member
	Proposals             []Proposal
	Values                map[string]interface{}
	MinimumSequenceNumber uint64
	SequenceNumber        uint64
}

// scrubbedPlaceholder replaces a member's identifying detail when a
// checkpoint must not embed user data (spec.md §4.A scrubUserData).
const scrubbedPlaceholder = "scrubbed-user"

// Handler is the Protocol Handler: a pure, replayable state machine over
// a document's op sequence. It has no knowledge of transport, storage,
// or the lambda that drives it.
type Handler struct {
	members           map[string]Member
	proposals         []Proposal
	values            map[string]interface{}
	minSequenceNumber uint64
	sequenceNumber    uint64
	closed            bool
}

// New constructs a Handler seeded from a previously-persisted snapshot.
// A zero-valued seed starts a fresh document.
func New(seed Snapshot) *Handler {
	var h = &Handler{
		members:           map[string]Member{},
		values:            map[string]interface{}{},
		minSequenceNumber: seed.MinimumSequenceNumber,
		sequenceNumber:    seed.SequenceNumber,
	}
	for k, v := range seed.Members {
		h.members[k] = v
	}
	for k, v := range seed.Values {
		h.values[k] = v
	}
	h.proposals = append(h.proposals, seed.Proposals...)
	return h
}

// SequenceNumber is the sequence number of the last op this Handler
// applied.
func (h *Handler) SequenceNumber() uint64 { return h.sequenceNumber }

// MinimumSequenceNumber is the current MSN watermark.
func (h *Handler) MinimumSequenceNumber() uint64 { return h.minSequenceNumber }

// ProcessMessage applies op to the state machine. It is the only mutator
// of Handler state. Any error returned is fatal for the owning document
// per spec.md §4.A — the caller is responsible for marking the document
// corrupt.
func (h *Handler) ProcessMessage(op opstream.SequencedOp, local bool) error {
	if h.closed {
		return fmt.Errorf("protocol handler is closed")
	}
	if op.SequenceNumber <= h.sequenceNumber {
		return fmt.Errorf("non-monotonic sequence number %d (at %d)", op.SequenceNumber, h.sequenceNumber)
	}

	switch op.Type {
	case opstream.TypeClientJoin:
		var details JoinDetails
		if !op.Contents.Empty() {
			if err := op.Contents.Decode(&details); err != nil {
				return fmt.Errorf("decoding ClientJoin contents: %w", err)
			}
		}
		if details.ClientId == "" {
			details.ClientId = op.ClientId
		}
		h.members[details.ClientId] = Member{
			ClientId:       details.ClientId,
			SequenceNumber: op.SequenceNumber,
			Detail:         details,
		}
	case opstream.TypeClientLeave:
		var clientId = op.ClientId
		if !op.Contents.Empty() {
			var raw string
			if err := op.Contents.Decode(&raw); err == nil && raw != "" {
				clientId = raw
			}
		}
		delete(h.members, clientId)
	}

	h.sequenceNumber = op.SequenceNumber
	if op.MinimumSequenceNumber > h.minSequenceNumber {
		h.minSequenceNumber = op.MinimumSequenceNumber
	}
	return nil
}

// State returns a serializable snapshot of the current protocol state.
// With scrubUserData set, member join details are replaced with a stable
// placeholder so the snapshot can be safely embedded in a checkpoint that
// must not carry user-identifying data.
func (h *Handler) State(scrubUserData bool) Snapshot {
	var members = make(map[string]Member, len(h.members))
	for k, v := range h.members {
		if scrubUserData {
			v.Detail = JoinDetails{ClientId: scrubbedPlaceholder}
		}
		members[k] = v
	}
	var values = make(map[string]interface{}, len(h.values))
	for k, v := range h.values {
		values[k] = v
	}
	var proposals = make([]Proposal, len(h.proposals))
	copy(proposals, h.proposals)

	return Snapshot{
		Members:               members,
		Proposals:             proposals,
		Values:                values,
		MinimumSequenceNumber: h.minSequenceNumber,
		SequenceNumber:        h.sequenceNumber,
	}
}

// Close marks the Handler closed; further ProcessMessage calls fail.
func (h *Handler) Close() { h.closed = true }
