// Package labels defines the ShardSpec label names used to route a
// Gazette shard to a single collaborative document, and the parsed
// form of those labels consumed by internal/scribe.
package labels

import (
	"fmt"

	pb "go.gazette.dev/core/broker/protocol"
)

// ShardSpec labels identifying the document a scribe shard serves.
const (
	// TenantId is the owning tenant of the document.
	TenantId = "scribe.estuary.dev/tenant-id"
	// DocumentId is the document this shard's Scribe Lambda processes.
	DocumentId = "scribe.estuary.dev/document-id"
	// Ephemeral marks a container that never needs a durable service summary.
	Ephemeral = "scribe.estuary.dev/ephemeral"
	// ExternalSummaryWriter marks a document whose client summaries are
	// uploaded by a separate service; this shard only ever advances
	// protocolHead on a SummaryAck and never writes summaries itself.
	ExternalSummaryWriter = "scribe.estuary.dev/external-summary-writer"
)

// ShardLabeling is the parsed form of a ShardSpec's LabelSet, as consumed
// by internal/scribe and internal/telemetry.
type ShardLabeling struct {
	TenantId         string
	DocumentId       string
	IsEphemeral      bool
	IsExternalWriter bool
}

// Parse extracts a ShardLabeling from a ShardSpec's LabelSet.
func Parse(set pb.LabelSet) (ShardLabeling, error) {
	var tenantId = set.ValueOf(TenantId)
	if tenantId == "" {
		return ShardLabeling{}, fmt.Errorf("expected label %q", TenantId)
	}
	var documentId = set.ValueOf(DocumentId)
	if documentId == "" {
		return ShardLabeling{}, fmt.Errorf("expected label %q", DocumentId)
	}

	return ShardLabeling{
		TenantId:         tenantId,
		DocumentId:       documentId,
		IsEphemeral:      set.ValueOf(Ephemeral) == "true",
		IsExternalWriter: set.ValueOf(ExternalSummaryWriter) == "true",
	}, nil
}
