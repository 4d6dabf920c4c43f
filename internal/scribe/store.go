package scribe

import (
	pb "go.gazette.dev/core/broker/protocol"
	"go.gazette.dev/core/consumer"
	pc "go.gazette.dev/core/consumer/protocol"

	"github.com/estuary/scribe/internal/checkpoint"
	"github.com/estuary/scribe/internal/labels"
	"github.com/estuary/scribe/internal/pendingops"
)

// documentState is the JSONFileStore-persisted driver state for a Scribe
// shard. It is deliberately empty: the document's real progress record
// (checkpoint.ScribeCheckpoint) is persisted through the Checkpoint
// Manager's own global/local stores, not through the recovery log, since
// the global tier must be visible to whichever partition next claims the
// document (spec.md §4.C) and a recovery-log-local record can't serve
// that. JSONFileStore is kept regardless so Store satisfies consumer.Store
// the way the teacher's connectorStore does (go/runtime/connector_store.go),
// with the recovery log instead backing the local RocksDB/SQLite state
// that Store owns alongside it.
type documentState struct{}

// Store is the Gazette consumer.Store for a single document's shard. It
// owns the local collaborators a Lambda needs (the pending-op log, the
// local checkpoint record) and the Lambda itself, constructed by
// Application.NewStore once their recovered state is available.
type Store struct {
	delegate *consumer.JSONFileStore
	lambda   *Lambda
	journal  pb.Journal
	labeling labels.ShardLabeling

	ops   *pendingops.Store
	local *checkpoint.LocalStore
}

var _ consumer.Store = (*Store)(nil)

// RestoreCheckpoint implements consumer.Store, delegating to the
// underlying JSONFileStore exactly as the teacher's connectorStore does.
func (s *Store) RestoreCheckpoint(shard consumer.Shard) (pc.Checkpoint, error) {
	return s.delegate.RestoreCheckpoint(shard)
}

// StartCommit implements consumer.Store.
func (s *Store) StartCommit(shard consumer.Shard, checkpoint pc.Checkpoint, waitFor consumer.OpFutures) consumer.OpFuture {
	return s.delegate.StartCommit(shard, checkpoint, waitFor)
}

// Destroy implements consumer.Store, releasing the Lambda and its local
// collaborators before tearing down the recovery-log-backed delegate.
func (s *Store) Destroy() {
	if s.lambda != nil {
		s.lambda.Close(CloseRebalance)
	}
	if s.ops != nil {
		s.ops.Close()
	}
	if s.local != nil {
		_ = s.local.Close()
	}
	s.delegate.Destroy()
}
