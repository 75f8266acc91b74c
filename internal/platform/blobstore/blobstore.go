// Package blobstore stores binary payloads: consult attachments and the
// audio captured during recording sessions. Blobs are addressed by key and
// carry no metadata beyond size and content type; descriptive metadata lives
// in the database next to the records that own the blobs.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobTooLarge = errors.New("blob exceeds maximum allowed size")
)

// MaxBlobSize is the maximum allowed blob size in bytes (100 MB).
const MaxBlobSize = 100 * 1024 * 1024

// Info describes a stored blob.
type Info struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Store is the contract for blob storage backends.
type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Info, error)
	Stat(ctx context.Context, key string) (*Info, error)
	Delete(ctx context.Context, key string) error
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	contentType string
	content     []byte
}

// Memory is a thread-safe, in-memory Store for testing and development.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

// NewMemory returns a ready-to-use in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]*storedBlob)}
}

// Put reads the content and stores it under key, replacing any previous blob.
func (s *Memory) Put(_ context.Context, key, contentType string, content io.Reader) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("blob key is required")
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxBlobSize+1))
	if err != nil {
		return 0, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxBlobSize {
		return 0, ErrBlobTooLarge
	}

	s.mu.Lock()
	s.blobs[key] = &storedBlob{contentType: contentType, content: data}
	s.mu.Unlock()

	return int64(len(data)), nil
}

// Get returns a reader over the blob content and its info.
func (s *Memory) Get(_ context.Context, key string) (io.ReadCloser, *Info, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	info := &Info{Key: key, Size: int64(len(blob.content)), ContentType: blob.contentType}
	return io.NopCloser(bytes.NewReader(blob.content)), info, nil
}

// Stat returns blob info without content.
func (s *Memory) Stat(_ context.Context, key string) (*Info, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}
	return &Info{Key: key, Size: int64(len(blob.content)), ContentType: blob.contentType}, nil
}

// Delete removes a blob by key. Deleting a missing key is not an error,
// matching S3 semantics so backends are interchangeable.
func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

var _ Store = (*Memory)(nil)
