package models

import (
	"fmt"
	"strings"
)

// ScopeKind discriminates the partitions of the conversation space.
type ScopeKind string

const (
	ScopeChannel  ScopeKind = "channel"
	ScopeDirect   ScopeKind = "direct"
	ScopePresence ScopeKind = "presence"
)

// Scope is the partition key for message ordering, feed subscription and
// typing signals: one channel, or one unordered pair of direct-message
// participants. The presence scope is a single process-wide topic.
type Scope struct {
	Kind      ScopeKind `json:"kind"`
	ChannelID string    `json:"channel_id,omitempty"`
	UserA     string    `json:"user_a,omitempty"`
	UserB     string    `json:"user_b,omitempty"`
}

func ChannelScope(channelID string) Scope {
	return Scope{Kind: ScopeChannel, ChannelID: channelID}
}

// DirectScope derives the scope of a 1:1 conversation from its two
// participants. The pair is unordered: DirectScope(a, b) == DirectScope(b, a).
func DirectScope(a, b string) Scope {
	if a > b {
		a, b = b, a
	}
	return Scope{Kind: ScopeDirect, UserA: a, UserB: b}
}

func PresenceScope() Scope {
	return Scope{Kind: ScopePresence}
}

// Key returns the canonical string form used as map key and feed topic.
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeChannel:
		return fmt.Sprintf("channel:%s", s.ChannelID)
	case ScopeDirect:
		return fmt.Sprintf("direct:%s:%s", s.UserA, s.UserB)
	case ScopePresence:
		return "presence"
	}
	return ""
}

func (s Scope) IsZero() bool {
	return s.Kind == ""
}

// ParseScopeKey is the inverse of Key. Used by the relay to route
// incoming events back to their topic.
func ParseScopeKey(key string) (Scope, error) {
	parts := strings.Split(key, ":")
	switch {
	case key == "presence":
		return PresenceScope(), nil
	case len(parts) == 2 && parts[0] == "channel" && parts[1] != "":
		return ChannelScope(parts[1]), nil
	case len(parts) == 3 && parts[0] == "direct" && parts[1] != "" && parts[2] != "":
		return DirectScope(parts[1], parts[2]), nil
	}
	return Scope{}, fmt.Errorf("invalid scope key: %q", key)
}
