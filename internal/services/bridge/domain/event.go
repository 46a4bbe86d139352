package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// EventKind classifies a turn event.
type EventKind string

const (
	EventDice       EventKind = "DICE"
	EventProduction EventKind = "PRODUCTION"
	EventBuild      EventKind = "BUILD"
	EventTrade      EventKind = "TRADE"
	EventRobber     EventKind = "ROBBER"
)

// NormalizeEventKind parses an event kind label into its canonical value.
func NormalizeEventKind(value string) (EventKind, bool) {
	kind := EventKind(strings.ToUpper(strings.TrimSpace(value)))
	switch kind {
	case EventDice, EventProduction, EventBuild, EventTrade, EventRobber:
		return kind, true
	}
	return "", false
}

// GameEvent is one entry of the turn log. Sequence and RecordedAt are set by
// the feed.
type GameEvent struct {
	Sequence   uint64          `json:"sequence"`
	ID         string          `json:"id"`
	Kind       EventKind       `json:"kind"`
	Player     AccountName     `json:"player,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Transfer   *TransferResult `json:"transfer,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}
