// Package opstream defines the Sequenced Op and Batch data model that
// flows into a Scribe Lambda, along with the tagged-union content codec
// described in spec.md's design notes (encoded-bytes vs. decoded struct,
// with a single decode point instead of ad-hoc JSON-in-string parsing).
package opstream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gogo/protobuf/types"
)

// Type enumerates the sequenced op kinds a Scribe Lambda dispatches on.
type Type int

const (
	TypeOp Type = iota
	TypeClientJoin
	TypeClientLeave
	TypeSummarize
	TypeSummaryAck
	TypeSummaryNack
	TypeNoClient
	TypeControl
)

func (t Type) String() string {
	switch t {
	case TypeOp:
		return "op"
	case TypeClientJoin:
		return "clientJoin"
	case TypeClientLeave:
		return "clientLeave"
	case TypeSummarize:
		return "summarize"
	case TypeSummaryAck:
		return "summaryAck"
	case TypeSummaryNack:
		return "summaryNack"
	case TypeNoClient:
		return "noClient"
	case TypeControl:
		return "control"
	default:
		return "unknown"
	}
}

// ServerMetadata carries server-assigned bookkeeping attached to an op.
type ServerMetadata struct {
	DeliAcked bool
}

// Content is a lazily-decoded payload: either the raw encoded bytes as
// they arrived off the wire, or an already-decoded value. Decode() is the
// single point where the two are reconciled, replacing the source
// pattern of parsing JSON-in-string ad hoc at each call site.
type Content struct {
	encoded []byte
	decoded interface{}
}

// EncodedContent wraps raw bytes not yet decoded.
func EncodedContent(raw []byte) Content { return Content{encoded: raw} }

// DecodedContent wraps an already-materialized value.
func DecodedContent(v interface{}) Content { return Content{decoded: v} }

// Empty reports whether the content carries neither encoded nor decoded data.
func (c Content) Empty() bool { return c.encoded == nil && c.decoded == nil }

// Decode unmarshals the content into out, decoding the encoded bytes
// exactly once and caching nothing further than what the caller already
// asked for (out must be a pointer).
func (c Content) Decode(out interface{}) error {
	if c.decoded != nil {
		raw, err := json.Marshal(c.decoded)
		if err != nil {
			return fmt.Errorf("re-encoding decoded content: %w", err)
		}
		return json.Unmarshal(raw, out)
	}
	if c.encoded == nil {
		return fmt.Errorf("content is empty")
	}
	return json.Unmarshal(c.encoded, out)
}

// MarshalJSON encodes Content as the raw bytes it wraps, decoding a
// "decoded" value to bytes first if that's what's held. This is the
// single point where Content crosses a wire or storage boundary.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.decoded != nil {
		return json.Marshal(c.decoded)
	}
	if c.encoded != nil {
		return c.encoded, nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON stores raw as encoded bytes, to be decoded lazily by a
// later Decode call.
func (c *Content) UnmarshalJSON(raw []byte) error {
	if string(raw) == "null" {
		*c = Content{}
		return nil
	}
	var cp = make([]byte, len(raw))
	copy(cp, raw)
	*c = Content{encoded: cp}
	return nil
}

// SequencedOp is an immutable record of a single operation in a
// document's log, per spec.md §3.
type SequencedOp struct {
	SequenceNumber          uint64
	MinimumSequenceNumber   uint64
	ReferenceSequenceNumber uint64
	ClientId                string
	Type                    Type
	Contents                Content
	Data                    Content
	ServerMetadata          *ServerMetadata
}

// DeliAcked reports whether this op was already acknowledged upstream of
// Scribe (e.g. by an ordering service), letting the Summarize dispatch
// skip work it need not redo.
func (op SequencedOp) DeliAcked() bool {
	return op.ServerMetadata != nil && op.ServerMetadata.DeliAcked
}

// Batch (boxcar) is an ordered group of ops delivered under a single
// stream offset, per spec.md §3.
type Batch struct {
	Offset    int64
	Partition string
	Contents  []SequencedOp
}

// Timestamp wraps a time into the gogo well-known Timestamp type, the
// same conversion the teacher uses for its own checkpoint-adjacent
// timestamps (types.TimestampProto).
func Timestamp(t time.Time) (*types.Timestamp, error) {
	return types.TimestampProto(t)
}
