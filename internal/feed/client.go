package feed

import (
	"sync"

	"github.com/carousell/ct-go/pkg/logger"
	"github.com/google/uuid"
	"github.com/teamhubhq/chat-core/internal/models"
)

// Handler receives change events for one subscription. Events arrive in the
// order the backend reports them, not necessarily the conversation's logical
// order, and may be delivered more than once.
type Handler func(models.ChangeEvent)

// GapFunc is invoked after the feed recovers from an outage. Events
// delivered during the outage are not replayed, so subscribers must issue a
// catch-up fetch.
type GapFunc func()

// Client is the push-feed boundary: one logical subscription per scope.
type Client interface {
	Subscribe(scope models.Scope, h Handler, opts ...SubscribeOption) (*Subscription, error)
	Unsubscribe(sub *Subscription)
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id    string
	topic string

	handler Handler
	gap     GapFunc
}

func (s *Subscription) Topic() string {
	return s.topic
}

type SubscribeOption func(*Subscription)

// WithGapFunc registers a catch-up hook called after a subscription gap.
func WithGapFunc(fn GapFunc) SubscribeOption {
	return func(s *Subscription) {
		s.gap = fn
	}
}

// Router dispatches change events to scope subscriptions. It is the
// in-process half of the feed client; a transport (the Kafka consumer or the
// relay ingest endpoint) pushes events into it.
type Router struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // topic -> sub id -> sub
	log  *logger.Logger
}

var _ Client = (*Router)(nil)

func NewRouter() *Router {
	return &Router{
		subs: make(map[string]map[string]*Subscription),
		log:  logger.MustNamed("feed"),
	}
}

func (r *Router) Subscribe(scope models.Scope, h Handler, opts ...SubscribeOption) (*Subscription, error) {
	if scope.IsZero() {
		return nil, models.ErrInvalidArgument
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		topic:   scope.Key(),
		handler: h,
	}
	for _, opt := range opts {
		opt(sub)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[sub.topic] == nil {
		r.subs[sub.topic] = make(map[string]*Subscription)
	}
	r.subs[sub.topic][sub.id] = sub

	r.log.Debugw("subscribed", "topic", sub.topic, "sub_id", sub.id)
	return sub, nil
}

func (r *Router) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.subs[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(r.subs, sub.topic)
		}
	}
}

// Dispatch fans one event out to every subscription of its scope. Unknown
// scopes are dropped; this is normal when no conversation is open for them.
func (r *Router) Dispatch(ev models.ChangeEvent) {
	r.mu.RLock()
	handlers := make([]Handler, 0, 4)
	for _, sub := range r.subs[ev.ScopeKey] {
		handlers = append(handlers, sub.handler)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// NotifyGap tells every subscription that feed continuity was lost and a
// catch-up fetch is required.
func (r *Router) NotifyGap() {
	r.mu.RLock()
	gaps := make([]GapFunc, 0, 8)
	for _, subs := range r.subs {
		for _, sub := range subs {
			if sub.gap != nil {
				gaps = append(gaps, sub.gap)
			}
		}
	}
	r.mu.RUnlock()

	for _, fn := range gaps {
		fn()
	}
}
