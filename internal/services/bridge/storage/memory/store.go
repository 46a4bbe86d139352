// Package memory keeps the event log in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/storage"
)

// Store is an in-memory EventStore.
type Store struct {
	mu      sync.Mutex
	records []storage.EventRecord
	closed  bool
}

var _ storage.EventStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Append adds record and drops the oldest entries beyond retain.
func (s *Store) Append(ctx context.Context, record storage.EventRecord, retain int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.records = append(s.records, record)
	if retain > 0 && len(s.records) > retain {
		s.records = append([]storage.EventRecord(nil), storage.Tail(s.records, retain)...)
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

// LastSequence returns the sequence of the newest event, or zero.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return 0, nil
	}
	return s.records[len(s.records)-1].Sequence, nil
}

// Close rejects further reads and appends.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
