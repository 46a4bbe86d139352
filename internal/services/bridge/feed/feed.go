// Package feed is the append-only turn log that ties game actions to the
// transfers that realised them. Only the most recent entries are retained;
// older ones are dropped, never archived.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
	"github.com/sebaaaap/hackathonavalanche/internal/platform/id"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/storage"
)

// DefaultRetention is the number of events kept when none is configured.
const DefaultRetention = 100

// Feed assigns sequence numbers and persists events through a store.
type Feed struct {
	store     storage.EventStore
	retention int
	clock     clock.Clock
	newID     func() (string, error)

	mu   sync.Mutex
	last uint64
}

// Option customises a Feed.
type Option func(*Feed)

// WithClock overrides the timestamp source.
func WithClock(c clock.Clock) Option {
	return func(f *Feed) { f.clock = c }
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(f *Feed) { f.newID = fn }
}

// New builds a feed over store, resuming sequence numbers from what the store
// already holds.
func New(ctx context.Context, store storage.EventStore, retention int, opts ...Option) (*Feed, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	f := &Feed{
		store:     store,
		retention: retention,
		clock:     clock.New(),
		newID:     id.NewID,
	}
	for _, opt := range opts {
		opt(f)
	}
	last, err := store.LastSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last sequence: %w", err)
	}
	f.last = last
	return f, nil
}

// Retention returns the retained window size.
func (f *Feed) Retention() int {
	return f.retention
}

// Record appends event and returns its sequence number. Caller supplied
// Sequence, ID and RecordedAt values are replaced.
func (f *Feed) Record(ctx context.Context, event domain.GameEvent) (uint64, error) {
	if _, ok := domain.NormalizeEventKind(string(event.Kind)); !ok {
		return 0, apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("unknown event kind %q", event.Kind))
	}
	if len(event.Payload) > 0 && !json.Valid(event.Payload) {
		return 0, apperrors.New(apperrors.CodeInvalidRequest, "event payload must be valid JSON")
	}
	eventID, err := f.newID()
	if err != nil {
		return 0, fmt.Errorf("generate event id: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	event.Sequence = f.last + 1
	event.ID = eventID
	event.RecordedAt = f.clock.Now().UTC()
	record, err := toRecord(event)
	if err != nil {
		return 0, err
	}
	if err := f.store.Append(ctx, record, f.retention); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	f.last = event.Sequence

	zerolog.Ctx(ctx).Debug().
		Uint64("sequence", event.Sequence).
		Str("kind", string(event.Kind)).
		Msg("event recorded")
	return event.Sequence, nil
}

// Recent returns the last n events, oldest first. n is capped at the
// retention window.
func (f *Feed) Recent(ctx context.Context, n int) ([]domain.GameEvent, error) {
	if n <= 0 {
		return []domain.GameEvent{}, nil
	}
	n = min(n, f.retention)
	records, err := f.store.Recent(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	events := make([]domain.GameEvent, 0, len(records))
	for _, record := range records {
		event, err := fromRecord(record)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func toRecord(event domain.GameEvent) (storage.EventRecord, error) {
	record := storage.EventRecord{
		Sequence:  event.Sequence,
		ID:        event.ID,
		Kind:      string(event.Kind),
		Player:    string(event.Player),
		Payload:   event.Payload,
		CreatedAt: event.RecordedAt,
	}
	if event.Transfer != nil {
		data, err := json.Marshal(event.Transfer)
		if err != nil {
			return storage.EventRecord{}, fmt.Errorf("encode transfer result: %w", err)
		}
		record.Transfer = data
	}
	return record, nil
}

func fromRecord(record storage.EventRecord) (domain.GameEvent, error) {
	event := domain.GameEvent{
		Sequence:   record.Sequence,
		ID:         record.ID,
		Kind:       domain.EventKind(record.Kind),
		Player:     domain.AccountName(record.Player),
		Payload:    record.Payload,
		RecordedAt: record.CreatedAt,
	}
	if len(record.Transfer) > 0 {
		var result domain.TransferResult
		if err := json.Unmarshal(record.Transfer, &result); err != nil {
			return domain.GameEvent{}, fmt.Errorf("decode transfer result of event %d: %w", record.Sequence, err)
		}
		event.Transfer = &result
	}
	return event, nil
}
