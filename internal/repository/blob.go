package repository

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	apperrors "gig_marketplace/pkg/errors"
	"gig_marketplace/pkg/logger"
)

// BlobStore keeps uploaded attachments in an embedded pebble database and hands out
// public URLs under baseURL/storage/<bucket>/<path>.
type BlobStore struct {
	db      *pebble.DB
	baseURL string
	log     logger.Logger
}

type Blob struct {
	ContentType string
	Data        []byte
}

// OpenBlobStore opens (creating if needed) the store at dir. A nil fs means the OS filesystem.
func OpenBlobStore(dir string, fs vfs.FS, baseURL string, log logger.Logger) (*BlobStore, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return &BlobStore{db: db, baseURL: strings.TrimSuffix(baseURL, "/"), log: log}, nil
}

func (s *BlobStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func blobKey(bucket, path string) []byte {
	return []byte("blob:" + bucket + "/" + path)
}

func typeKey(bucket, path string) []byte {
	return []byte("type:" + bucket + "/" + path)
}

func validObjectPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// Upload stores data and returns its public URL. Existing objects are overwritten.
func (s *BlobStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if bucket == "" || strings.Contains(bucket, "/") || !validObjectPath(path) {
		return "", fmt.Errorf("invalid object %q/%q: %w", bucket, path, apperrors.ErrBadRequest)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(blobKey(bucket, path), data, nil); err != nil {
		return "", err
	}
	if err := b.Set(typeKey(bucket, path), []byte(contentType), nil); err != nil {
		return "", err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		s.log.Error("Failed to store attachment", "error", err, "bucket", bucket, "path", path)
		return "", err
	}

	s.log.Debug("Attachment stored", "bucket", bucket, "path", path, "size", len(data))
	return s.PublicURL(bucket, path), nil
}

func (s *BlobStore) PublicURL(bucket, path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/storage/" + url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}

func (s *BlobStore) Get(bucket, path string) (*Blob, error) {
	data, err := s.read(blobKey(bucket, path))
	if err != nil {
		return nil, err
	}
	ct, err := s.read(typeKey(bucket, path))
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	contentType := string(ct)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Blob{ContentType: contentType, Data: data}, nil
}

func (s *BlobStore) read(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}
