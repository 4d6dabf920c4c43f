package scribe

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"
	pb "go.gazette.dev/core/broker/protocol"
	"go.gazette.dev/core/message"

	"github.com/estuary/scribe/internal/opstream"
)

// placeholderUUID is written into a Message's raw bytes before it's
// published, then patched in place by SetUUID when the Publisher assigns
// the message its UUID, mirroring the teacher's raw-JSON message convention
// (go/consumer/raw_json.go's placeholderUUID / go/flow/raw_json.go's
// RawJSONMessage).
const placeholderUUID = "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx"

var uuidPath = []string{"_meta", "uuid"}

// ackTemplate is the acknowledgement document Gazette appends to close out
// a transaction; it carries no op-stream content of its own.
var ackTemplate = []byte(`{"_meta":{"uuid":"` + placeholderUUID + `"},"partition":"","contents":[]}`)

// wireBatch is the on-the-wire JSON shape of a Message: a Gazette UUID at
// the fixed "_meta.uuid" pointer the teacher's convention expects,
// alongside the opstream.Batch payload it carries (spec.md §3's boxcar,
// one per journal record rather than one op per record).
type wireBatch struct {
	Meta struct {
		UUID string `json:"uuid"`
	} `json:"_meta"`
	Partition string                 `json:"partition"`
	Contents  []opstream.SequencedOp `json:"contents"`
}

// Message adapts an opstream.Batch to Gazette's message.Message, so that
// the op-stream journal can be read and written through the ordinary
// consumer transaction machinery instead of a bespoke shuffle reader.
type Message struct {
	Raw   json.RawMessage
	UUID  message.UUID
	Batch opstream.Batch
}

var _ message.Message = (*Message)(nil)
var _ json.Unmarshaler = (*Message)(nil)

// NewMessage returns an empty Message, satisfying message.NewMessageFunc
// for the document op-stream journal.
func NewMessage(*pb.JournalSpec) (message.Message, error) {
	return new(Message), nil
}

// newOutboundMessage builds a Message ready to publish: its raw bytes
// already carry the placeholder UUID at the fixed pointer SetUUID expects
// to patch.
func newOutboundMessage(batch opstream.Batch) (*Message, error) {
	var wire = wireBatch{Partition: batch.Partition, Contents: batch.Contents}
	wire.Meta.UUID = placeholderUUID

	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding outbound batch: %w", err)
	}
	return &Message{Raw: raw, Batch: batch}, nil
}

// GetUUID implements message.Message.
func (m *Message) GetUUID() message.UUID { return m.UUID }

// SetUUID implements message.Message, patching the UUID placeholder
// in place within Raw.
func (m *Message) SetUUID(id message.UUID) {
	var val, _, _, err = jsonparser.Get(m.Raw, uuidPath...)
	if err != nil {
		panic(err) // Already verified by UnmarshalJSON / newOutboundMessage.
	}
	copy(val, id.String())
}

// NewAcknowledgement implements message.Message.
// The ack is built from ackTemplate's raw bytes directly rather than via
// UnmarshalJSON, which rejects the placeholder UUID; SetUUID patches it.
func (m *Message) NewAcknowledgement(pb.Journal) message.Message {
	return &Message{Raw: append(json.RawMessage(nil), ackTemplate...)}
}

// MarshalJSONTo implements the gazette-specific message.JSONMarshalerTo
// fast path, writing Raw directly rather than re-encoding it.
func (m *Message) MarshalJSONTo(bw *bufio.Writer) (int, error) {
	return bw.Write(m.Raw)
}

// MarshalJSON implements json.Marshaler for framings that encode a
// Message through the standard library rather than JSONMarshalerTo.
func (m *Message) MarshalJSON() ([]byte, error) {
	return m.Raw, nil
}

// UnmarshalJSON implements json.Unmarshaler, extracting the UUID at the
// fixed pointer and decoding the carried opstream.Batch.
func (m *Message) UnmarshalJSON(data []byte) error {
	m.Raw = append(m.Raw[:0], data...)

	val, typ, _, err := jsonparser.Get(m.Raw, uuidPath...)
	if err != nil {
		return fmt.Errorf("locating message UUID: %w", err)
	} else if typ != jsonparser.String || len(val) != len(placeholderUUID) {
		return fmt.Errorf("message UUID format is invalid: %s", val)
	} else if m.UUID, err = uuid.ParseBytes(val); err != nil {
		return fmt.Errorf("parsing message UUID: %w", err)
	}

	var wire wireBatch
	if err := json.Unmarshal(m.Raw, &wire); err != nil {
		return fmt.Errorf("decoding batch contents: %w", err)
	}
	m.Batch = opstream.Batch{Partition: wire.Partition, Contents: wire.Contents}
	return nil
}
