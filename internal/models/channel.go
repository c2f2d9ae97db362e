package models

import (
	"time"
)

// Channel is a durable group conversation. Direct pairs have no channel
// document; their scope is derived from the two participants.
type Channel struct {
	ID            ObjectID   `bson:"_id,omitempty" json:"id"`
	Name          string     `bson:"name" json:"name" validate:"required"`
	CreatorID     string     `bson:"creator_id" json:"creator_id" validate:"required"`
	Private       bool       `bson:"private" json:"private"`
	CreatedAt     time.Time  `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at,omitempty" json:"updated_at"`
	LastMessageAt *time.Time `bson:"last_message_at,omitempty" json:"last_message_at,omitempty"`
}

func (Channel) CollectionName() string {
	return "channels"
}

func (c Channel) GetObjectID() ObjectID {
	return c.ID
}


const (
	MemberRoleOwner  = "owner"
	MemberRoleMember = "member"
)

// ChannelMember records one identity's membership in a channel.
type ChannelMember struct {
	ID        ObjectID   `bson:"_id,omitempty" json:"id"`
	ChannelID ObjectID   `bson:"channel_id,omitempty" json:"channel_id" validate:"required"`
	UserID    string     `bson:"user_id,omitempty" json:"user_id" validate:"required"`
	Role      string     `bson:"role,omitempty" json:"role"`
	JoinedAt  time.Time  `bson:"joined_at,omitempty" json:"joined_at"`
	LeftAt    *time.Time `bson:"left_at,omitempty" json:"left_at,omitempty"`
}

func (ChannelMember) CollectionName() string {
	return "channel_members"
}

func (m ChannelMember) GetObjectID() ObjectID {
	return m.ID
}


// UnreadCount tracks unread messages per user per channel.
type UnreadCount struct {
	ID        ObjectID  `bson:"_id,omitempty" json:"id"`
	ScopeKey  string    `bson:"scope_key,omitempty" json:"scope_key"`
	UserID    string    `bson:"user_id,omitempty" json:"user_id"`
	Count     int       `bson:"count,omitempty" json:"count"`
	UpdatedAt time.Time `bson:"updated_at,omitempty" json:"updated_at"`
}

func (UnreadCount) CollectionName() string {
	return "unread_counts"
}

func (u UnreadCount) GetObjectID() ObjectID {
	return u.ID
}

