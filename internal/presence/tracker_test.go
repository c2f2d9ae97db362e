package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/feed"
	"github.com/teamhubhq/chat-core/internal/models"
)

type staticIdentity string

func (s staticIdentity) CurrentUser(context.Context) (string, error) {
	return string(s), nil
}

type dropPublisher struct{}

func (dropPublisher) Publish(context.Context, models.ChangeEvent) error { return nil }

func newTestTracker() (*Tracker, *time.Time) {
	conf := &config.Config{Presence: config.PresenceConfig{
		HeartbeatInterval: 30 * time.Second,
		OfflineAfter:      90 * time.Second,
	}}
	t := NewTracker(conf, feed.NewRouter(), dropPublisher{}, staticIdentity("self"))
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t.now = func() time.Time { return current }
	return t, &current
}

func TestObserveTransitions(t *testing.T) {
	tr, current := newTestTracker()

	assert.Equal(t, models.PresenceUnknown, tr.State("bob"))

	tr.Observe(models.PresenceChange{UserID: "bob", Online: true, At: *current})
	assert.Equal(t, models.PresenceOnline, tr.State("bob"))

	tr.Observe(models.PresenceChange{UserID: "bob", Online: false, At: current.Add(time.Second)})
	assert.Equal(t, models.PresenceOffline, tr.State("bob"))

	tr.Observe(models.PresenceChange{UserID: "bob", Online: true, At: current.Add(2 * time.Second)})
	assert.Equal(t, models.PresenceOnline, tr.State("bob"))
}

func TestObserveIgnoresStaleEvents(t *testing.T) {
	tr, current := newTestTracker()

	tr.Observe(models.PresenceChange{UserID: "bob", Online: true, At: *current})
	// reordered delivery: an older offline must not regress the state
	tr.Observe(models.PresenceChange{UserID: "bob", Online: false, At: current.Add(-time.Minute)})

	assert.Equal(t, models.PresenceOnline, tr.State("bob"))
}

func TestSweepTimesOutSilentIdentities(t *testing.T) {
	tr, current := newTestTracker()

	tr.Touch("bob", *current)
	tr.Touch("carol", current.Add(80*time.Second))

	tr.sweep(current.Add(100 * time.Second))

	assert.Equal(t, models.PresenceOffline, tr.State("bob"), "no heartbeat inside the window")
	assert.Equal(t, models.PresenceOnline, tr.State("carol"))
	assert.Equal(t, []string{"carol"}, tr.Online())
}

func TestHeartbeatRefreshesBeforeTimeout(t *testing.T) {
	tr, current := newTestTracker()

	tr.Touch("bob", *current)
	tr.Touch("bob", current.Add(60*time.Second))
	tr.sweep(current.Add(100 * time.Second))

	assert.Equal(t, models.PresenceOnline, tr.State("bob"))
}

func TestSnapshotSorted(t *testing.T) {
	tr, current := newTestTracker()

	tr.Touch("carol", *current)
	tr.Touch("alice", *current)
	tr.Touch("bob", *current)

	snap := tr.Snapshot()
	assert.Len(t, snap, 3)
	assert.Equal(t, "alice", snap[0].UserID)
	assert.Equal(t, "bob", snap[1].UserID)
	assert.Equal(t, "carol", snap[2].UserID)
}
