package reaction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carousell/ct-go/pkg/logger"
	"github.com/teamhubhq/chat-core/internal/feed"
	"github.com/teamhubhq/chat-core/internal/models"
)

// Toggler is the durable-store write boundary for reactions.
type Toggler interface {
	ToggleReaction(ctx context.Context, op models.ReactionOp) error
}

// Emitter receives fire-and-forget gamification events.
type Emitter interface {
	ReactionAdded(ctx context.Context, messageID models.ObjectID, userID string)
}

// Aggregator maps message -> emoji -> set of reacting identities with
// toggle semantics. Toggling is optimistic: membership flips locally first,
// the durable toggle follows, and the echoed feed event merges as a no-op.
// Reconciliation is per-identity union/difference, never an overwrite of the
// whole set, so concurrent toggles by two identities both survive.
type Aggregator struct {
	mu   sync.Mutex
	sets map[models.ObjectID]map[string]map[string]struct{}

	store  Toggler
	pub    feed.Publisher
	gamify Emitter
	log    *logger.Logger
}

func NewAggregator(store Toggler, pub feed.Publisher, gamify Emitter) *Aggregator {
	return &Aggregator{
		sets:   make(map[models.ObjectID]map[string]map[string]struct{}),
		store:  store,
		pub:    pub,
		gamify: gamify,
		log:    logger.MustNamed("reaction"),
	}
}

// Toggle flips userID's membership in (messageID, emoji). Toggling twice is
// idempotent and returns the set to its prior state. On a durable-write
// failure the local flip is rolled back and the error surfaced.
func (a *Aggregator) Toggle(ctx context.Context, scope models.Scope, messageID models.ObjectID, emoji, userID string) error {
	if emoji == "" || userID == "" {
		return models.ErrInvalidArgument
	}

	added := a.flip(messageID, emoji, userID)

	op := models.ReactionOp{
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    userID,
		Added:     added,
	}
	if err := a.store.ToggleReaction(ctx, op); err != nil {
		a.flip(messageID, emoji, userID) // roll back the optimistic flip
		return fmt.Errorf("toggle reaction: %w", err)
	}

	ev := models.ChangeEvent{
		Type:       models.EventUpdated,
		ScopeKey:   scope.Key(),
		MessageID:  messageID,
		OccurredAt: time.Now(),
		Reaction:   &op,
	}
	if err := a.pub.Publish(ctx, ev); err != nil {
		a.log.Warnw("reaction event publish failed",
			"message_id", string(messageID), "error", err)
	}

	if added && a.gamify != nil {
		a.gamify.ReactionAdded(ctx, messageID, userID)
	}
	return nil
}

// Reconcile merges a reaction delta from the feed: apply if absent, remove
// if present, no-op otherwise. Safe under duplicate delivery.
func (a *Aggregator) Reconcile(op models.ReactionOp) {
	a.mu.Lock()
	defer a.mu.Unlock()

	users := a.usersLocked(op.MessageID, op.Emoji)
	if op.Added {
		users[op.UserID] = struct{}{}
		return
	}
	delete(users, op.UserID)
	a.pruneLocked(op.MessageID, op.Emoji)
}

// Seed loads the reaction sets of a fetched message, replacing any local
// view of it.
func (a *Aggregator) Seed(messageID models.ObjectID, reactions map[string][]string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	emojis := make(map[string]map[string]struct{}, len(reactions))
	for emoji, users := range reactions {
		set := make(map[string]struct{}, len(users))
		for _, u := range users {
			set[u] = struct{}{}
		}
		emojis[emoji] = set
	}
	a.sets[messageID] = emojis
}

// Has reports whether userID currently reacts to (messageID, emoji).
func (a *Aggregator) Has(messageID models.ObjectID, emoji, userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sets[messageID][emoji][userID]
	return ok
}

// Snapshot returns messageID's reactions as emoji -> sorted identities.
func (a *Aggregator) Snapshot(messageID models.ObjectID) map[string][]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string][]string, len(a.sets[messageID]))
	for emoji, users := range a.sets[messageID] {
		ids := make([]string, 0, len(users))
		for u := range users {
			ids = append(ids, u)
		}
		sort.Strings(ids)
		out[emoji] = ids
	}
	return out
}

// flip toggles membership and reports the new state: true when added.
func (a *Aggregator) flip(messageID models.ObjectID, emoji, userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	users := a.usersLocked(messageID, emoji)
	if _, ok := users[userID]; ok {
		delete(users, userID)
		a.pruneLocked(messageID, emoji)
		return false
	}
	users[userID] = struct{}{}
	return true
}

func (a *Aggregator) usersLocked(messageID models.ObjectID, emoji string) map[string]struct{} {
	emojis, ok := a.sets[messageID]
	if !ok {
		emojis = make(map[string]map[string]struct{})
		a.sets[messageID] = emojis
	}
	users, ok := emojis[emoji]
	if !ok {
		users = make(map[string]struct{})
		emojis[emoji] = users
	}
	return users
}

func (a *Aggregator) pruneLocked(messageID models.ObjectID, emoji string) {
	if len(a.sets[messageID][emoji]) == 0 {
		delete(a.sets[messageID], emoji)
	}
	if len(a.sets[messageID]) == 0 {
		delete(a.sets, messageID)
	}
}
