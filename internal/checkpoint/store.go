package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DocumentStore persists a ScribeCheckpoint for a document. GlobalStore
// and LocalStore both implement it; the Manager picks between them per
// WriteRequest.IsGlobal().
type DocumentStore interface {
	UpdateCheckpoint(ctx context.Context, documentId string, cp ScribeCheckpoint) error
	DeleteCheckpoint(ctx context.Context, documentId string, protocolHead uint64, deferred bool) error
	ReadCheckpoint(ctx context.Context, documentId string) (ScribeCheckpoint, bool, error)
}

// GlobalStore persists the canonical document record, visible to any
// partition that later claims the document, backed by etcd (the same
// coordination store Gazette itself uses for shard assignment).
type GlobalStore struct {
	kv     clientv3.KV
	prefix string
}

// NewGlobalStore constructs a GlobalStore rooted at prefix (e.g.
// "/scribe/documents/<tenant>/").
func NewGlobalStore(kv clientv3.KV, prefix string) *GlobalStore {
	return &GlobalStore{kv: kv, prefix: prefix}
}

func (g *GlobalStore) key(documentId string) string { return g.prefix + documentId }

func (g *GlobalStore) UpdateCheckpoint(ctx context.Context, documentId string, cp ScribeCheckpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding global checkpoint for %q: %w", documentId, err)
	}
	if _, err := g.kv.Put(ctx, g.key(documentId), string(raw)); err != nil {
		return fmt.Errorf("writing global checkpoint for %q: %w", documentId, err)
	}
	return nil
}

func (g *GlobalStore) DeleteCheckpoint(ctx context.Context, documentId string, protocolHead uint64, deferred bool) error {
	if deferred {
		// A deferred delete is satisfied by the next UpdateCheckpoint;
		// nothing to do until then.
		return nil
	}
	if _, err := g.kv.Delete(ctx, g.key(documentId)); err != nil {
		return fmt.Errorf("deleting global checkpoint for %q: %w", documentId, err)
	}
	return nil
}

func (g *GlobalStore) ReadCheckpoint(ctx context.Context, documentId string) (ScribeCheckpoint, bool, error) {
	resp, err := g.kv.Get(ctx, g.key(documentId))
	if err != nil {
		return ScribeCheckpoint{}, false, fmt.Errorf("reading global checkpoint for %q: %w", documentId, err)
	}
	if len(resp.Kvs) == 0 {
		return ScribeCheckpoint{}, false, nil
	}
	var cp ScribeCheckpoint
	if err := json.Unmarshal(resp.Kvs[0].Value, &cp); err != nil {
		return ScribeCheckpoint{}, false, fmt.Errorf("decoding global checkpoint for %q: %w", documentId, err)
	}
	return cp, true, nil
}

// LocalStore persists the partition-local checkpoint record in a SQLite
// file, avoiding the coordination cost of a round trip to etcd for
// documents with an active client where only this partition's view
// matters (spec.md §4.C "faster, avoids coordination").
type LocalStore struct {
	db *sql.DB
}

// NewLocalStore opens (and migrates, if needed) a SQLite-backed local
// checkpoint store at path.
func NewLocalStore(path string) (*LocalStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening local checkpoint store %q: %w", path, err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS checkpoints (
		document_id TEXT PRIMARY KEY,
		checkpoint  TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating local checkpoint store: %w", err)
	}
	return &LocalStore{db: db}, nil
}

func (l *LocalStore) UpdateCheckpoint(ctx context.Context, documentId string, cp ScribeCheckpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding local checkpoint for %q: %w", documentId, err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO checkpoints(document_id, checkpoint) VALUES(?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET checkpoint=excluded.checkpoint`,
		documentId, string(raw))
	if err != nil {
		return fmt.Errorf("writing local checkpoint for %q: %w", documentId, err)
	}
	return nil
}

func (l *LocalStore) DeleteCheckpoint(ctx context.Context, documentId string, protocolHead uint64, deferred bool) error {
	if deferred {
		return nil
	}
	_, err := l.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE document_id = ?`, documentId)
	if err != nil {
		return fmt.Errorf("deleting local checkpoint for %q: %w", documentId, err)
	}
	return nil
}

func (l *LocalStore) ReadCheckpoint(ctx context.Context, documentId string) (ScribeCheckpoint, bool, error) {
	var raw string
	err := l.db.QueryRowContext(ctx,
		`SELECT checkpoint FROM checkpoints WHERE document_id = ?`, documentId).Scan(&raw)
	if err == sql.ErrNoRows {
		return ScribeCheckpoint{}, false, nil
	} else if err != nil {
		return ScribeCheckpoint{}, false, fmt.Errorf("reading local checkpoint for %q: %w", documentId, err)
	}
	var cp ScribeCheckpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return ScribeCheckpoint{}, false, fmt.Errorf("decoding local checkpoint for %q: %w", documentId, err)
	}
	return cp, true, nil
}

// Close releases the underlying SQLite handle.
func (l *LocalStore) Close() error { return l.db.Close() }
