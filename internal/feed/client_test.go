package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamhubhq/chat-core/internal/models"
)

func TestRouterDispatchesByScope(t *testing.T) {
	r := NewRouter()
	chanScope := models.ChannelScope("64b000000000000000000001")
	directScope := models.DirectScope("alice", "bob")

	var gotChan, gotDirect []models.ChangeEvent
	_, err := r.Subscribe(chanScope, func(ev models.ChangeEvent) {
		gotChan = append(gotChan, ev)
	})
	require.NoError(t, err)
	_, err = r.Subscribe(directScope, func(ev models.ChangeEvent) {
		gotDirect = append(gotDirect, ev)
	})
	require.NoError(t, err)

	r.Dispatch(models.ChangeEvent{Type: models.EventInserted, ScopeKey: chanScope.Key()})
	r.Dispatch(models.ChangeEvent{Type: models.EventInserted, ScopeKey: directScope.Key()})
	r.Dispatch(models.ChangeEvent{Type: models.EventInserted, ScopeKey: "channel:unknown"})

	assert.Len(t, gotChan, 1)
	assert.Len(t, gotDirect, 1)
}

func TestRouterUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRouter()
	scope := models.ChannelScope("64b000000000000000000001")

	count := 0
	sub, err := r.Subscribe(scope, func(models.ChangeEvent) { count++ })
	require.NoError(t, err)

	r.Dispatch(models.ChangeEvent{ScopeKey: scope.Key()})
	r.Unsubscribe(sub)
	r.Dispatch(models.ChangeEvent{ScopeKey: scope.Key()})

	assert.Equal(t, 1, count)
}

func TestRouterRejectsZeroScope(t *testing.T) {
	r := NewRouter()
	_, err := r.Subscribe(models.Scope{}, func(models.ChangeEvent) {})
	assert.Error(t, err)
}

func TestRouterNotifyGap(t *testing.T) {
	r := NewRouter()
	scope := models.ChannelScope("64b000000000000000000001")

	gaps := 0
	_, err := r.Subscribe(scope, func(models.ChangeEvent) {}, WithGapFunc(func() { gaps++ }))
	require.NoError(t, err)
	_, err = r.Subscribe(scope, func(models.ChangeEvent) {})
	require.NoError(t, err)

	r.NotifyGap()
	assert.Equal(t, 1, gaps, "only subscriptions with a gap hook are notified")
}

func TestLoopbackPublisherShortCircuits(t *testing.T) {
	r := NewRouter()
	scope := models.ChannelScope("64b000000000000000000001")

	var got []models.ChangeEvent
	_, err := r.Subscribe(scope, func(ev models.ChangeEvent) { got = append(got, ev) })
	require.NoError(t, err)

	p := &loopbackPublisher{router: r}
	err = p.Publish(t.Context(), models.ChangeEvent{
		Type:       models.EventInserted,
		ScopeKey:   scope.Key(),
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
