package models

import (
	"time"
)

// PresenceState is the per-identity state machine:
// unknown -> online -> (timeout or explicit offline) -> offline -> online ...
type PresenceState string

const (
	PresenceUnknown PresenceState = "unknown"
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// PresenceRecord is the ephemeral view of one identity. It is
// reconstructable purely from live heartbeats and feed events and does not
// survive a tracker restart.
type PresenceRecord struct {
	UserID   string        `json:"user_id"`
	State    PresenceState `json:"state"`
	LastSeen time.Time     `json:"last_seen"`
}
