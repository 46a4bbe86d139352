// Package storage defines persistence contracts for the turn event log.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("event store is closed")

// EventRecord is one persisted turn event.
type EventRecord struct {
	Sequence  uint64          `json:"sequence"`
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Player    string          `json:"player,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Transfer  json.RawMessage `json:"transfer,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventStore persists a bounded, append-only event log.
type EventStore interface {
	// Append stores record and drops the oldest entries beyond retain.
	Append(ctx context.Context, record EventRecord, retain int) error
	// Recent returns up to limit newest records, oldest first.
	Recent(ctx context.Context, limit int) ([]EventRecord, error)
	// LastSequence returns the highest stored sequence, or 0 when empty.
	LastSequence(ctx context.Context) (uint64, error)
	Close() error
}

// Tail returns the last n records of records, or all when n covers them.
func Tail(records []EventRecord, n int) []EventRecord {
	if n <= 0 {
		return nil
	}
	if len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}
