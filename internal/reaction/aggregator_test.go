package reaction

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamhubhq/chat-core/internal/models"
)

const msgID = models.ObjectID("64b000000000000000000001")

var scope = models.ChannelScope("64b000000000000000000002")

type fakeToggler struct {
	mu   sync.Mutex
	ops  []models.ReactionOp
	fail bool
}

func (f *fakeToggler) ToggleReaction(_ context.Context, op models.ReactionOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write refused")
	}
	f.ops = append(f.ops, op)
	return nil
}

type dropPublisher struct{}

func (dropPublisher) Publish(context.Context, models.ChangeEvent) error { return nil }

type countEmitter struct{ added int }

func (e *countEmitter) ReactionAdded(context.Context, models.ObjectID, string) { e.added++ }

func TestToggleIsItsOwnInverse(t *testing.T) {
	store := &fakeToggler{}
	emitter := &countEmitter{}
	a := NewAggregator(store, dropPublisher{}, emitter)
	ctx := context.Background()

	require.NoError(t, a.Toggle(ctx, scope, msgID, "👍", "alice"))
	assert.True(t, a.Has(msgID, "👍", "alice"))
	assert.Equal(t, 1, emitter.added)

	require.NoError(t, a.Toggle(ctx, scope, msgID, "👍", "alice"))
	assert.False(t, a.Has(msgID, "👍", "alice"))
	assert.Equal(t, 1, emitter.added, "removal emits no gamification event")

	require.Len(t, store.ops, 2)
	assert.True(t, store.ops[0].Added)
	assert.False(t, store.ops[1].Added)
}

func TestToggleRollsBackOnStoreError(t *testing.T) {
	store := &fakeToggler{fail: true}
	a := NewAggregator(store, dropPublisher{}, &countEmitter{})

	err := a.Toggle(context.Background(), scope, msgID, "👍", "alice")
	require.Error(t, err)
	assert.False(t, a.Has(msgID, "👍", "alice"), "optimistic flip rolled back")
}

func TestToggleValidatesInput(t *testing.T) {
	a := NewAggregator(&fakeToggler{}, dropPublisher{}, nil)
	assert.Error(t, a.Toggle(context.Background(), scope, msgID, "", "alice"))
	assert.Error(t, a.Toggle(context.Background(), scope, msgID, "👍", ""))
}

func TestReconcileMergesPerIdentity(t *testing.T) {
	a := NewAggregator(&fakeToggler{}, dropPublisher{}, nil)

	add := func(user string) models.ReactionOp {
		return models.ReactionOp{MessageID: msgID, Emoji: "🎉", UserID: user, Added: true}
	}
	a.Reconcile(add("alice"))
	a.Reconcile(add("bob"))
	a.Reconcile(add("alice")) // duplicate delivery

	assert.Equal(t, map[string][]string{"🎉": {"alice", "bob"}}, a.Snapshot(msgID))

	a.Reconcile(models.ReactionOp{MessageID: msgID, Emoji: "🎉", UserID: "alice", Added: false})
	assert.Equal(t, map[string][]string{"🎉": {"bob"}}, a.Snapshot(msgID))
}

func TestConcurrentIdentitiesBothSurvive(t *testing.T) {
	store := &fakeToggler{}
	a := NewAggregator(store, dropPublisher{}, nil)
	ctx := context.Background()

	// two identities toggle the same emoji concurrently
	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			assert.NoError(t, a.Toggle(ctx, scope, msgID, "👍", u))
		}(user)
	}
	wg.Wait()

	assert.Equal(t, []string{"alice", "bob"}, a.Snapshot(msgID)["👍"])
}

func TestSeedReplacesLocalView(t *testing.T) {
	a := NewAggregator(&fakeToggler{}, dropPublisher{}, nil)
	a.Reconcile(models.ReactionOp{MessageID: msgID, Emoji: "👍", UserID: "stale", Added: true})

	a.Seed(msgID, map[string][]string{"🎉": {"alice"}})

	assert.False(t, a.Has(msgID, "👍", "stale"))
	assert.True(t, a.Has(msgID, "🎉", "alice"))
}

func TestToggleAfterRemoteEchoRemoves(t *testing.T) {
	store := &fakeToggler{}
	a := NewAggregator(store, dropPublisher{}, &countEmitter{})

	// alice reacted on another session; the delta arrives off the feed
	a.Reconcile(models.ReactionOp{MessageID: msgID, Emoji: "+1", UserID: "alice", Added: true})
	require.True(t, a.Has(msgID, "+1", "alice"))

	require.NoError(t, a.Toggle(context.Background(), scope, msgID, "+1", "alice"))

	assert.False(t, a.Has(msgID, "+1", "alice"))
	require.Len(t, store.ops, 1)
	assert.False(t, store.ops[0].Added, "toggle must flip against the merged remote state")
}

func TestToggleAfterSeedRemoves(t *testing.T) {
	store := &fakeToggler{}
	a := NewAggregator(store, dropPublisher{}, &countEmitter{})

	// reaction pre-dates process start; the bulk fetch seeds it
	a.Seed(msgID, map[string][]string{"+1": {"alice"}})

	require.NoError(t, a.Toggle(context.Background(), scope, msgID, "+1", "alice"))

	assert.False(t, a.Has(msgID, "+1", "alice"))
	require.Len(t, store.ops, 1)
	assert.False(t, store.ops[0].Added)
}
