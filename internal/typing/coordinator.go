package typing

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

// Coordinator broadcasts and tracks ephemeral "user is typing" signals.
// Signals carry a TTL and are never persisted; one not renewed before its
// TTL is treated as stopped even if no explicit stop ever arrives, which
// keeps the indicator sane when a client crashes mid-type. Outbound
// announcements are debounced so holding a key down does not flood the feed.
type Coordinator struct {
	mu      sync.Mutex
	signals map[string]map[string]time.Time // scope key -> user -> expiry
	sent    map[string]time.Time            // scope key -> last own announce

	conf     config.TypingConfig
	pub      feed.Publisher
	identity IdentityProvider
	now      func() time.Time
	log      *logger.Logger
}

func NewCoordinator(conf *config.Config, pub feed.Publisher, identity IdentityProvider) *Coordinator {
	return &Coordinator{
		signals:  make(map[string]map[string]time.Time),
		sent:     make(map[string]time.Time),
		conf:     conf.Typing,
		pub:      pub,
		identity: identity,
		now:      time.Now,
		log:      logger.MustNamed("typing"),
	}
}

// Announce broadcasts that the current user is typing in scope. Repeated
// calls inside the renew interval are dropped locally; renewal happens
// before the previous signal expires, so an active typist never flickers.
func (c *Coordinator) Announce(ctx context.Context, scope models.Scope) error {
	userID, err := c.identity.CurrentUser(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	c.mu.Lock()
	if last, ok := c.sent[scope.Key()]; ok && now.Sub(last) < c.conf.RenewInterval {
		c.mu.Unlock()
		return nil
	}
	c.sent[scope.Key()] = now
	c.mu.Unlock()

	sig := models.TypingSignal{
		ScopeKey:  scope.Key(),
		UserID:    userID,
		ExpiresAt: now.Add(c.conf.TTL),
	}
	c.HandleSignal(sig)

	ev := models.ChangeEvent{
		Type:       models.EventTyping,
		ScopeKey:   scope.Key(),
		OccurredAt: now,
		Typing:     &sig,
	}
	return c.pub.Publish(ctx, ev)
}

// Stop broadcasts an explicit end-of-typing for the current user, used when
// a message is sent or the composer is cleared.
func (c *Coordinator) Stop(ctx context.Context, scope models.Scope) error {
	userID, err := c.identity.CurrentUser(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	sig := models.TypingSignal{
		ScopeKey:  scope.Key(),
		UserID:    userID,
		ExpiresAt: now, // already expired: consumers drop it on read
	}
	c.HandleSignal(sig)

	c.mu.Lock()
	delete(c.sent, scope.Key())
	c.mu.Unlock()

	ev := models.ChangeEvent{
		Type:       models.EventTyping,
		ScopeKey:   scope.Key(),
		OccurredAt: now,
		Typing:     &sig,
	}
	return c.pub.Publish(ctx, ev)
}

// HandleSignal merges a typing signal from the feed.
func (c *Coordinator) HandleSignal(sig models.TypingSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	users, ok := c.signals[sig.ScopeKey]
	if !ok {
		users = make(map[string]time.Time)
		c.signals[sig.ScopeKey] = users
	}
	if sig.ExpiresAt.After(c.now()) {
		users[sig.UserID] = sig.ExpiresAt
	} else {
		delete(users, sig.UserID)
	}
}

// Typists returns who is typing in scope right now. Expiry is computed
// lazily here; there is no per-signal timer.
func (c *Coordinator) Typists(scope models.Scope) []string {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	users := c.signals[scope.Key()]
	out := make([]string, 0, len(users))
	for id, expiry := range users {
		if expiry.After(now) {
			out = append(out, id)
			continue
		}
		delete(users, id)
	}
	sort.Strings(out)
	return out
}

// Sweep drops every expired signal. A single timer calls this; signals are
// also pruned lazily on read, so the sweep only bounds idle-map growth.
func (c *Coordinator) Sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, users := range c.signals {
		for id, expiry := range users {
			if !expiry.After(now) {
				delete(users, id)
			}
		}
		if len(users) == 0 {
			delete(c.signals, key)
		}
	}
}

// Run drives the periodic sweep until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.conf.TTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// StartCoordinator wires the sweep loop into the fx lifecycle.
func StartCoordinator(lc fx.Lifecycle, c *Coordinator) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go c.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
