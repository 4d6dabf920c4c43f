package opstream

// ControlType enumerates the system-op subtypes carried by a Control op.
type ControlType string

const UpdateDSN ControlType = "updateDSN"

// UpdateDSNContents is the payload of a Control{UpdateDSN} op emitted
// after a successful client or service summary, per spec.md §4.F.
type UpdateDSNContents struct {
	Type                  ControlType `json:"type"`
	IsClientSummary       bool        `json:"isClientSummary"`
	DurableSequenceNumber uint64      `json:"durableSequenceNumber"`
	ClearCache            bool        `json:"clearCache"`
}

// SummaryProposal identifies the client-proposed summary an Ack/Nack responds to.
type SummaryProposal struct {
	SummarySequenceNumber uint64 `json:"summarySequenceNumber"`
}

// SummaryAckContents is the payload of a SummaryAck op.
type SummaryAckContents struct {
	Handle          string          `json:"handle"`
	SummaryProposal SummaryProposal `json:"summaryProposal"`
}

// SummaryNackContents is the payload of a SummaryNack op.
type SummaryNackContents struct {
	Message         string          `json:"message"`
	SummaryProposal SummaryProposal `json:"summaryProposal"`
}

// NewControlOp builds a Control SequencedOp carrying an UpdateDSN payload.
// Sequence numbers are left zero: the producer/bus assigns them on send.
func NewControlOp(contents UpdateDSNContents) SequencedOp {
	return SequencedOp{
		Type:     TypeControl,
		Contents: DecodedContent(contents),
	}
}

// NewSummaryAckOp builds a SummaryAck SequencedOp.
func NewSummaryAckOp(contents SummaryAckContents) SequencedOp {
	return SequencedOp{
		Type:     TypeSummaryAck,
		Contents: DecodedContent(contents),
	}
}

// NewSummaryNackOp builds a SummaryNack SequencedOp.
func NewSummaryNackOp(contents SummaryNackContents) SequencedOp {
	return SequencedOp{
		Type:     TypeSummaryNack,
		Contents: DecodedContent(contents),
	}
}
