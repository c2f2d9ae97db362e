package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/carousell/ct-go/pkg/logger"
	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/feed"
	"github.com/teamhubhq/chat-core/internal/models"
)

// Querier is the durable-store read boundary. Results come back ordered by
// (created_at, id); since narrows the fetch to messages at or after it.
type Querier interface {
	Query(ctx context.Context, scope models.Scope, since *time.Time) ([]*models.Message, error)
}

// TypingSink receives the ephemeral typing signals that ride conversation
// topics. The store itself never sees them.
type TypingSink interface {
	HandleSignal(sig models.TypingSignal)
}

// ReactionSink mirrors durable reaction state for toggle decisions. It is
// seeded from every bulk fetch and fed every reaction delta off the feed,
// so a toggle made on another session or before process start still flips
// the right direction here.
type ReactionSink interface {
	Reconcile(op models.ReactionOp)
	Seed(messageID models.ObjectID, reactions map[string][]string)
}

// Manager owns one Store per open scope and its feed subscription. Opening
// a scope subscribes and seeds the log; closing it unsubscribes and discards
// in-flight fetches so a late response cannot resurrect a closed
// conversation's state.
type Manager struct {
	mu        sync.Mutex
	feed      feed.Client
	querier   Querier
	typing    TypingSink
	reactions ReactionSink
	conf      config.FeedConfig
	active    map[string]*session
	log       *logger.Logger
}

type session struct {
	store  *Store
	sub    *feed.Subscription
	closed bool
}

func NewManager(feedClient feed.Client, querier Querier, typing TypingSink, reactions ReactionSink, conf *config.Config) *Manager {
	return &Manager{
		feed:      feedClient,
		querier:   querier,
		typing:    typing,
		reactions: reactions,
		conf:      conf.Feed,
		active:    make(map[string]*session),
		log:       logger.MustNamed("conversation"),
	}
}

// Open activates a scope: it subscribes to the scope's feed topic, starts
// the initial load, and returns the store. The store fills asynchronously;
// callers read Messages() as it converges. Opening an already-open scope
// returns the existing store.
func (m *Manager) Open(ctx context.Context, scope models.Scope) (*Store, error) {
	m.mu.Lock()
	if sess, ok := m.active[scope.Key()]; ok {
		m.mu.Unlock()
		return sess.store, nil
	}

	store := NewStore(scope,
		WithOrphanTTL(m.conf.OrphanTTL),
		WithMatchTolerance(m.conf.MatchTolerance),
	)
	sess := &session{store: store}
	m.active[scope.Key()] = sess
	m.mu.Unlock()

	sub, err := m.feed.Subscribe(scope, func(ev models.ChangeEvent) {
		if ev.Type == models.EventTyping {
			if m.typing != nil && ev.Typing != nil {
				m.typing.HandleSignal(*ev.Typing)
			}
			return
		}
		if ev.Reaction != nil && m.reactions != nil {
			m.reactions.Reconcile(*ev.Reaction)
		}
		store.ApplyEvent(ev)
	}, feed.WithGapFunc(func() {
		go m.resync(context.Background(), sess)
	}))
	if err != nil {
		m.mu.Lock()
		delete(m.active, scope.Key())
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	sess.sub = sub
	m.mu.Unlock()

	go m.initialLoad(ctx, sess)
	return store, nil
}

// Close deactivates a scope. The previous subscription is released and any
// in-flight fetch result for it will be dropped on arrival.
func (m *Manager) Close(scope models.Scope) {
	m.mu.Lock()
	sess, ok := m.active[scope.Key()]
	if ok {
		sess.closed = true
		delete(m.active, scope.Key())
	}
	m.mu.Unlock()

	if ok && sess.sub != nil {
		m.feed.Unsubscribe(sess.sub)
	}
}

// Store returns the live store for scope, if open.
func (m *Manager) Store(scope models.Scope) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.active[scope.Key()]
	if !ok {
		return nil, false
	}
	return sess.store, true
}

func (m *Manager) initialLoad(ctx context.Context, sess *session) {
	msgs, err := m.querier.Query(ctx, sess.store.Scope(), nil)
	if err != nil {
		m.log.Errorw("initial load failed",
			"scope", sess.store.Scope().Key(), "error", err)
		return
	}
	if m.discarded(sess) {
		return
	}
	sess.store.Seed(msgs)
	m.seedReactions(msgs)
}

// seedReactions replaces the sink's view of every fetched message with the
// durable sets, so toggles against pre-existing reactions flip correctly.
func (m *Manager) seedReactions(msgs []*models.Message) {
	if m.reactions == nil {
		return
	}
	for _, msg := range msgs {
		if len(msg.Reactions) > 0 {
			m.reactions.Seed(msg.ID, msg.Reactions)
		}
	}
}

// resync runs the catch-up fetch after a subscription gap: everything from
// the watermark minus a safety skew, merged idempotently by id. This bounds
// outage recovery to recent history instead of the full log.
func (m *Manager) resync(ctx context.Context, sess *session) {
	since := sess.store.Watermark()
	var sincePtr *time.Time
	if !since.IsZero() {
		t := since.Add(-m.conf.ResyncSkew)
		sincePtr = &t
	}

	msgs, err := m.querier.Query(ctx, sess.store.Scope(), sincePtr)
	if err != nil {
		m.log.Errorw("resync failed",
			"scope", sess.store.Scope().Key(), "error", err)
		return
	}
	if m.discarded(sess) {
		return
	}
	sess.store.Resync(msgs)
	m.seedReactions(msgs)
	m.log.Infow("resynced after feed gap",
		"scope", sess.store.Scope().Key(), "fetched", len(msgs))
}

// discarded reports whether the session was closed while a fetch was in
// flight; stale results must not be applied.
func (m *Manager) discarded(sess *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sess.closed
}
