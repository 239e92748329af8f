// Package storage holds the object stores the recitation pipeline reads from
// and writes to, and the manifest that records every object it creates.
//
// Objects live in logical buckets (raw uploads and processed audio). Each
// bucket is backed by a FileStore, so local disk and S3-compatible object
// stores can be mixed freely.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	BucketUploads   = "uploads"
	BucketProcessed = "processed"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading. The caller must close it.
	// A missing file yields an error wrapping os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing, truncating any existing file.
	// The caller must close the returned WriteCloser to flush data.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Missing files are not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Ref identifies one stored object.
type Ref struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// IsZero reports whether r refers to nothing. Operations that can fail
// without returning an error (conversion) hand back the zero Ref.
func (r Ref) IsZero() bool {
	return r.Bucket == "" && r.Key == ""
}

func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Bucket + ":" + r.Key
}

// ParseRef parses the "bucket:key" form produced by Ref.String.
func ParseRef(s string) (Ref, error) {
	bucket, key, ok := strings.Cut(s, ":")
	if !ok || bucket == "" || key == "" {
		return Ref{}, fmt.Errorf("invalid storage ref %q: want bucket:key", s)
	}
	return Ref{Bucket: bucket, Key: key}, nil
}

var ErrUnknownBucket = errors.New("unknown bucket")

// Buckets routes refs to the FileStore serving their bucket.
type Buckets struct {
	stores map[string]FileStore
}

// NewBuckets wires the two buckets the pipeline uses. The same FileStore may
// back both.
func NewBuckets(uploads, processed FileStore) *Buckets {
	return &Buckets{stores: map[string]FileStore{
		BucketUploads:   uploads,
		BucketProcessed: processed,
	}}
}

func (b *Buckets) store(bucket string) (FileStore, error) {
	s, ok := b.stores[bucket]
	if !ok || s == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}
	return s, nil
}

func (b *Buckets) Open(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	s, err := b.store(ref.Bucket)
	if err != nil {
		return nil, err
	}
	return s.Read(ctx, ref.Key)
}

func (b *Buckets) Create(ctx context.Context, ref Ref) (io.WriteCloser, error) {
	s, err := b.store(ref.Bucket)
	if err != nil {
		return nil, err
	}
	return s.Write(ctx, ref.Key)
}

func (b *Buckets) Delete(ctx context.Context, ref Ref) error {
	s, err := b.store(ref.Bucket)
	if err != nil {
		return err
	}
	return s.Delete(ctx, ref.Key)
}

func (b *Buckets) Exists(ctx context.Context, ref Ref) (bool, error) {
	s, err := b.store(ref.Bucket)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, ref.Key)
}

// Put streams r into ref and closes the writer, returning the first error.
func (b *Buckets) Put(ctx context.Context, ref Ref, r io.Reader) (int64, error) {
	w, err := b.Create(ctx, ref)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", ref, err)
	}
	return n, nil
}
