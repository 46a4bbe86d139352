// Package jsonfile persists the event log as a single JSON array on disk.
//
// Every append rewrites the file with only the retained tail, through a
// temporary file and rename so a crash never leaves a half-written log.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/storage"
)

// Store is a file-backed EventStore.
type Store struct {
	path string

	mu      sync.Mutex
	records []storage.EventRecord
	closed  bool
}

var _ storage.EventStore = (*Store)(nil)

// Open loads path, creating its directory when needed. A missing file is an
// empty log.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("event log path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}

	store := &Store{path: cleanPath}
	data, err := os.ReadFile(cleanPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return store, nil
	case err != nil:
		return nil, fmt.Errorf("read event log: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(data, &store.records); err != nil {
		return nil, fmt.Errorf("decode event log %s: %w", cleanPath, err)
	}
	return store, nil
}

// Append adds record, truncates to the newest retain entries and rewrites
// the whole file. Memory is updated only after the write succeeds.
func (s *Store) Append(ctx context.Context, record storage.EventRecord, retain int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	next := append(append([]storage.EventRecord(nil), s.records...), record)
	if retain > 0 {
		next = storage.Tail(next, retain)
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

func (s *Store) write(records []storage.EventRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode event log: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp event log: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write event log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close event log: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace event log: %w", err)
	}
	return nil
}

// Recent returns up to limit newest events, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	return append([]storage.EventRecord(nil), storage.Tail(s.records, limit)...), nil
}

// LastSequence returns the highest sequence in the log.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var last uint64
	for _, record := range s.records {
		last = max(last, record.Sequence)
	}
	return last, nil
}

// Close rejects further reads and appends. The file is left in place.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
