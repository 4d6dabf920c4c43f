package pendingops

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/jgraettinger/gorocksdb"

	"github.com/estuary/scribe/internal/opstream"
)

// Store is the durable, range-scannable op log backing the Pending
// Message Reader collaborator (spec.md §6): readMessages(fromSeq, toSeq)
// used to heal sequence gaps, and the append path that keeps it current.
// It is local to the partition — not the canonical record — so it is
// implemented over an embedded RocksDB instance rather than a
// network-replicated store.
type Store struct {
	db         *gorocksdb.DB
	documentId string
	ro         *gorocksdb.ReadOptions
	wo         *gorocksdb.WriteOptions
}

// OpenStore opens (creating if needed) a RocksDB-backed op log rooted at
// dir, scoped to a single document's ops.
func OpenStore(dir, documentId string) (*Store, error) {
	var opts = gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)

	db, err := gorocksdb.OpenDb(opts, dir)
	if err != nil {
		return nil, fmt.Errorf("opening pending-ops rocksdb at %q: %w", dir, err)
	}
	return &Store{
		db:         db,
		documentId: documentId,
		ro:         gorocksdb.NewDefaultReadOptions(),
		wo:         gorocksdb.NewDefaultWriteOptions(),
	}, nil
}

// key encodes (documentId, sequenceNumber) as a sortable RocksDB key so
// that a range scan over a document's ops visits them in sequence order.
func (s *Store) key(seq uint64) []byte {
	var buf = make([]byte, len(s.documentId)+1+8)
	n := copy(buf, s.documentId)
	buf[n] = '\x00'
	binary.BigEndian.PutUint64(buf[n+1:], seq)
	return buf
}

// Append persists op so that a later ReadMessages can recover it.
func (s *Store) Append(op opstream.SequencedOp) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encoding op %d: %w", op.SequenceNumber, err)
	}
	return s.db.Put(s.wo, s.key(op.SequenceNumber), raw)
}

// ReadMessages returns the ordered ops covering the inclusive range
// [fromSeq, toSeq], satisfying the Pending Message Reader contract used
// for sequence-gap recovery (spec.md §4.F.3.2).
func (s *Store) ReadMessages(fromSeq, toSeq uint64) ([]opstream.SequencedOp, error) {
	if toSeq < fromSeq {
		return nil, nil
	}

	var it = s.db.NewIterator(s.ro)
	defer it.Close()

	var out []opstream.SequencedOp
	for it.Seek(s.key(fromSeq)); it.Valid(); it.Next() {
		var k = it.Key()
		defer k.Free()
		if len(k.Data()) < len(s.documentId)+9 {
			break
		}
		var seq = binary.BigEndian.Uint64(k.Data()[len(s.documentId)+1:])
		if seq > toSeq {
			break
		}

		var v = it.Value()
		var op opstream.SequencedOp
		if err := json.Unmarshal(v.Data(), &op); err != nil {
			v.Free()
			return nil, fmt.Errorf("decoding op %d: %w", seq, err)
		}
		v.Free()
		out = append(out, op)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("scanning pending ops [%d,%d]: %w", fromSeq, toSeq, err)
	}
	return out, nil
}

// Close releases the underlying RocksDB handle.
func (s *Store) Close() {
	s.ro.Destroy()
	s.wo.Destroy()
	s.db.Close()
}
