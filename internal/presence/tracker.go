package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carousell/ct-go/pkg/logger"
	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/feed"
	"github.com/teamhubhq/chat-core/internal/models"
	"go.uber.org/fx"
)

// IdentityProvider supplies the already-authenticated caller identity.
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (string, error)
}

// Tracker maintains the live online set from two independent sources:
// periodic local heartbeats and remote presence-changed feed events. The
// backend does not guarantee an offline push on ungraceful disconnects, so a
// record with no refresh inside the dead-man's-switch window times out to
// offline locally.
//
// State machine per identity: unknown -> online -> (timeout or explicit
// offline) -> offline -> online ...
type Tracker struct {
	mu      sync.Mutex
	records map[string]*models.PresenceRecord

	conf     config.PresenceConfig
	feed     feed.Client
	pub      feed.Publisher
	identity IdentityProvider

	sub  *feed.Subscription
	done chan struct{}
	now  func() time.Time
	log  *logger.Logger
}

func NewTracker(conf *config.Config, feedClient feed.Client, pub feed.Publisher, identity IdentityProvider) *Tracker {
	return &Tracker{
		records:  make(map[string]*models.PresenceRecord),
		conf:     conf.Presence,
		feed:     feedClient,
		pub:      pub,
		identity: identity,
		done:     make(chan struct{}),
		now:      time.Now,
		log:      logger.MustNamed("presence"),
	}
}

// StartTracker wires the tracker into the fx lifecycle.
func StartTracker(lc fx.Lifecycle, t *Tracker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return t.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			t.Stop()
			return nil
		},
	})
}

// Start subscribes to the presence topic and launches the heartbeat and
// sweep timers.
func (t *Tracker) Start(ctx context.Context) error {
	sub, err := t.feed.Subscribe(models.PresenceScope(), func(ev models.ChangeEvent) {
		if ev.Type == models.EventPresenceChanged && ev.Presence != nil {
			t.Observe(*ev.Presence)
		}
	})
	if err != nil {
		return err
	}
	t.sub = sub

	go t.heartbeatLoop(ctx)
	go t.sweepLoop()
	return nil
}

func (t *Tracker) Stop() {
	close(t.done)
	if t.sub != nil {
		t.feed.Unsubscribe(t.sub)
	}
}

// Observe merges one presence event. Explicit offline beats the timeout
// policy; a fresh event always refreshes last-seen.
func (t *Tracker) Observe(change models.PresenceChange) {
	at := change.At
	if at.IsZero() {
		at = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[change.UserID]
	if !ok {
		rec = &models.PresenceRecord{UserID: change.UserID, State: models.PresenceUnknown}
		t.records[change.UserID] = rec
	}
	if at.Before(rec.LastSeen) {
		// stale event, reordered delivery
		return
	}

	prev := rec.State
	rec.LastSeen = at
	if change.Online {
		rec.State = models.PresenceOnline
	} else {
		rec.State = models.PresenceOffline
	}
	if prev != rec.State {
		t.log.Debugw("presence transition",
			"user_id", change.UserID, "from", string(prev), "to", string(rec.State))
	}
}

// Touch refreshes an identity from a local heartbeat.
func (t *Tracker) Touch(userID string, at time.Time) {
	t.Observe(models.PresenceChange{UserID: userID, Online: true, At: at})
}

// Online returns the sorted set of identities currently online.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.records))
	for id, rec := range t.records {
		if rec.State == models.PresenceOnline {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// State returns the current state of one identity; unknown before the first
// observation.
func (t *Tracker) State(userID string) models.PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[userID]; ok {
		return rec.State
	}
	return models.PresenceUnknown
}

// Snapshot returns a copy of all records, sorted by identity.
func (t *Tracker) Snapshot() []models.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.PresenceRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t *Tracker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(t.conf.HeartbeatInterval)
	defer ticker.Stop()

	t.beat(ctx)
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.beat(ctx)
		}
	}
}

func (t *Tracker) beat(ctx context.Context) {
	userID, err := t.identity.CurrentUser(ctx)
	if err != nil {
		t.log.Warnw("heartbeat skipped, no identity", "error", err)
		return
	}

	now := t.now()
	t.Touch(userID, now)

	ev := models.ChangeEvent{
		Type:       models.EventPresenceChanged,
		ScopeKey:   models.PresenceScope().Key(),
		OccurredAt: now,
		Presence:   &models.PresenceChange{UserID: userID, Online: true, At: now},
	}
	if err := t.pub.Publish(ctx, ev); err != nil {
		t.log.Warnw("heartbeat publish failed", "user_id", userID, "error", err)
	}
}

func (t *Tracker) sweepLoop() {
	interval := t.conf.OfflineAfter / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.sweep(t.now())
		}
	}
}

// sweep applies the dead-man's-switch: identities silent for longer than the
// window go offline without any explicit event.
func (t *Tracker) sweep(now time.Time) {
	cutoff := now.Add(-t.conf.OfflineAfter)

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, rec := range t.records {
		if rec.State == models.PresenceOnline && rec.LastSeen.Before(cutoff) {
			rec.State = models.PresenceOffline
			t.log.Debugw("presence timeout", "user_id", id, "last_seen", rec.LastSeen)
		}
	}
}
