package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Well-known document keys.
const (
	KeyConversationContext = "conversation_context"
	KeyMemorySegments      = "memory_segments"
)

// ErrNotFound is returned when no document exists under the given key.
var ErrNotFound = errors.New("document not found")

// BlobStore persists whole JSON documents under well-known keys.
type BlobStore interface {
	ReadJSON(key string, v interface{}) error
	WriteJSON(key string, v interface{}) error
}

// FileBlobStore stores each document as a single JSON file in a
// directory. Writes go through a temp file and rename so a crash never
// leaves a half-written document behind.
type FileBlobStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileBlobStore creates the data directory if needed.
func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileBlobStore{dir: dir}, nil
}

// ReadJSON reads and unmarshals the document stored under key.
// Returns ErrNotFound when the file does not exist.
func (s *FileBlobStore) ReadJSON(key string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read document %s: %w", key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse document %s: %w", key, err)
	}
	return nil
}

// WriteJSON marshals v and atomically replaces the document under key.
func (s *FileBlobStore) WriteJSON(key string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", key, err)
	}

	target := s.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write document %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace document %s: %w", key, err)
	}
	return nil
}

func (s *FileBlobStore) path(key string) string {
	// Keys are well-known identifiers; strip anything path-like anyway.
	key = strings.ReplaceAll(key, string(os.PathSeparator), "_")
	key = strings.ReplaceAll(key, "..", "_")
	return filepath.Join(s.dir, key+".json")
}
