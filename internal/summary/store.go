package summary

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"github.com/minio/highwayhash"
	"google.golang.org/api/option"
)

// summaryHashKey is a fixed 32-byte HighwayHash key, analogous to the
// teacher's PackedKeyHash_HH64 fixed key, read once from /dev/random.
var summaryHashKey, _ = hex.DecodeString("c16a10a35dfa7cc14d13f39ef6e81d5f6cd4eedd5a78df9e6e6f14c2d6d5d731")

// ContentStore is a content-addressed object store for serialized summary
// trees: the object name is the hex HighwayHash digest of its bytes, which
// doubles as the "handle" returned to clients and recorded in the
// ScribeCheckpoint's ValidParentSummaries/LastClientSummaryHead fields.
type ContentStore struct {
	bucket *gcs.BucketHandle
}

// NewContentStore opens a ContentStore backed by the named GCS bucket.
func NewContentStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*ContentStore, error) {
	var client, err = gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("building google storage client: %w", err)
	}
	return &ContentStore{bucket: client.Bucket(bucket)}, nil
}

// Handle computes the content-addressed object name for payload without
// writing it.
func Handle(payload []byte) string {
	return hex.EncodeToString(highwayhash.Sum(payload, summaryHashKey)[:])
}

// Put writes tree as canonical JSON under its content handle and returns
// the handle. Writing is idempotent: re-uploading identical content
// produces the same handle and object.
func (s *ContentStore) Put(ctx context.Context, tree Tree) (string, error) {
	var payload, err = json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("encoding summary tree: %w", err)
	}
	var handle = Handle(payload)

	var w = s.bucket.Object(handle).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("uploading summary %s: %w", handle, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing summary %s: %w", handle, err)
	}
	return handle, nil
}

// Get fetches and decodes the tree stored at handle.
func (s *ContentStore) Get(ctx context.Context, handle string) (Tree, error) {
	var r, err = s.bucket.Object(handle).NewReader(ctx)
	if err != nil {
		return Tree{}, fmt.Errorf("fetching summary %s: %w", handle, err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return Tree{}, fmt.Errorf("reading summary %s: %w", handle, err)
	}

	var tree Tree
	if err := json.Unmarshal(buf.Bytes(), &tree); err != nil {
		return Tree{}, fmt.Errorf("decoding summary %s: %w", handle, err)
	}
	return tree, nil
}
