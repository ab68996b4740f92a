package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is the single-owner persistence layer for the state document.
// Writes go through Write(transform): the transform is applied to a
// freshly-read snapshot and the result is serialized to a temporary
// sibling file, fsynced, and renamed over the canonical path. A crash
// mid-write therefore leaves either the old or the new complete
// document, never a mix. Only the orchestrator process may write;
// workers report through their output stream instead.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open creates a store for the document at path. Any leftover temporary
// artifact from an interrupted write is discarded unconditionally before
// the first read.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("state: empty document path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state: creating parent directory: %w", err)
	}
	if err := discardStale(path); err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// Path returns the canonical document path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a document has been persisted yet.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read returns a snapshot of the persisted document. A missing file
// yields an empty document, so a fresh project reads cleanly.
func (s *Store) Read() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) read() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: reading %s: %w", s.path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("state: parsing %s: %w", s.path, err)
	}
	return &doc, nil
}

// Write applies transform to a fresh snapshot and atomically persists
// the result. The returned document is the persisted snapshot.
func (s *Store) Write(transform func(*Document) error) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	if err := transform(doc); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("state: marshaling document: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("state: creating %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("state: writing %s: %w", tmp, err)
	}
	// Flush to disk before the rename so the swap is durable, not just
	// atomic against readers.
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("state: syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("state: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("state: replacing %s: %w", s.path, err)
	}

	return doc, nil
}

// discardStale removes a leftover .tmp artifact from an interrupted
// write. The canonical file is authoritative; a partial temp file never
// is.
func discardStale(path string) error {
	tmp := path + ".tmp"
	err := os.Remove(tmp)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: discarding stale %s: %w", tmp, err)
	}
	return nil
}
