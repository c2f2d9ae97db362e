package models

import (
	"time"
)

// DeliveryStatus is the client-local lifecycle of a message.
type DeliveryStatus string

const (
	// StatusPending marks an optimistic insert awaiting the durable write ack.
	StatusPending DeliveryStatus = "pending"
	// StatusConfirmed marks a message acknowledged by the durable store.
	StatusConfirmed DeliveryStatus = "confirmed"
	// StatusFailed marks a rejected write kept visible for retry or discard.
	StatusFailed DeliveryStatus = "failed"
)

// Attachment references an object uploaded to external storage.
// Only the reference travels with the message, never the bytes.
type Attachment struct {
	Ref  string `bson:"ref" json:"ref" validate:"required"`
	Name string `bson:"name" json:"name"`
	Size int64  `bson:"size,omitempty" json:"size,omitempty"`
}

// Message is one entry of a conversation log.
//
// Within a scope messages are totally ordered by (CreatedAt, ID); the ID is
// assigned by the durable store and is monotonic per scope, so the order is
// deterministic regardless of client clock skew. A delete is a tombstone
// (Deleted=true), never a removal, so positions stay stable mid-scroll.
type Message struct {
	ID        ObjectID   `bson:"_id,omitempty" json:"id"`
	ScopeKey  string     `bson:"scope_key" json:"scope_key" validate:"required"`
	SenderID  string     `bson:"sender_id" json:"sender_id" validate:"required"`
	Body      string     `bson:"body" json:"body"`
	ParentID  *ObjectID  `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
	EditedAt  *time.Time `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	Deleted   bool       `bson:"deleted" json:"deleted"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`

	Attachments []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Mentions    []string     `bson:"mentions,omitempty" json:"mentions,omitempty"`

	// Reactions maps emoji to the identities that applied it.
	Reactions map[string][]string `bson:"reactions,omitempty" json:"reactions,omitempty"`

	// Client-local fields, never persisted.
	TempKey string         `bson:"-" json:"temp_key,omitempty"`
	Status  DeliveryStatus `bson:"-" json:"status,omitempty"`
}

// Before reports whether m sorts before other in the canonical
// (created_at, id) order of a scope.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// MessagePatch is the mutable subset of a message carried by update and
// delete events. Nil fields are untouched.
type MessagePatch struct {
	Body      *string             `json:"body,omitempty"`
	EditedAt  *time.Time          `json:"edited_at,omitempty"`
	Deleted   *bool               `json:"deleted,omitempty"`
	DeletedAt *time.Time          `json:"deleted_at,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Apply mutates m in place with the non-nil fields of p.
func (p MessagePatch) Apply(m *Message) {
	if p.Body != nil {
		m.Body = *p.Body
	}
	if p.EditedAt != nil {
		m.EditedAt = p.EditedAt
	}
	if p.Deleted != nil {
		m.Deleted = *p.Deleted
	}
	if p.DeletedAt != nil {
		m.DeletedAt = p.DeletedAt
	}
	if p.Reactions != nil {
		m.Reactions = p.Reactions
	}
	if !p.UpdatedAt.IsZero() {
		m.UpdatedAt = p.UpdatedAt
	}
}
