package models

import (
	"time"
)

// EventType enumerates the patterns carried by the push feed.
type EventType string

const (
	EventInserted        EventType = "message.inserted"
	EventUpdated         EventType = "message.updated"
	EventDeleted         EventType = "message.deleted"
	EventPresenceChanged EventType = "presence.changed"
	EventTyping          EventType = "typing.signal"
)

// ChangeEvent is one entry of the push feed. Delivery is at-least-once and
// possibly reordered; consumers must merge idempotently.
type ChangeEvent struct {
	EventID    string    `json:"event_id,omitempty"`
	Type       EventType `json:"type" validate:"required"`
	ScopeKey   string    `json:"scope_key" validate:"required,scope_key"`
	OccurredAt time.Time `json:"occurred_at"`

	// Message is set on inserted events and carries the full document.
	Message *Message `json:"message,omitempty"`

	// MessageID and Patch are set on updated and deleted events.
	MessageID ObjectID      `json:"message_id,omitempty"`
	Patch     *MessagePatch `json:"patch,omitempty"`

	// Reaction is set on updated events that carry a reaction toggle.
	// It is a per-identity delta, never a snapshot of the whole set, so
	// concurrent toggles by different identities both survive the merge.
	Reaction *ReactionOp `json:"reaction,omitempty"`

	Presence *PresenceChange `json:"presence,omitempty"`
	Typing   *TypingSignal   `json:"typing,omitempty"`
}

// ReactionOp records one identity applying or removing one emoji on one
// message. Applying twice is idempotent, as is removing twice.
type ReactionOp struct {
	MessageID ObjectID `json:"message_id" validate:"required"`
	Emoji     string   `json:"emoji" validate:"required"`
	UserID    string   `json:"user_id" validate:"required"`
	Added     bool     `json:"added"`
}

// PresenceChange is the payload of a presence.changed event.
type PresenceChange struct {
	UserID string    `json:"user_id" validate:"required"`
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// TypingSignal is an ephemeral "user is typing" broadcast. It is never
// persisted; a signal older than ExpiresAt is treated as absent.
type TypingSignal struct {
	ScopeKey  string    `json:"scope_key" validate:"required"`
	UserID    string    `json:"user_id" validate:"required"`
	ExpiresAt time.Time `json:"expires_at"`
}
