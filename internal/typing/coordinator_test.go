package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/models"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *capturePublisher) Publish(_ context.Context, ev models.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type staticIdentity string

func (s staticIdentity) CurrentUser(context.Context) (string, error) {
	return string(s), nil
}

func newTestCoordinator(pub *capturePublisher) (*Coordinator, *time.Time) {
	conf := &config.Config{Typing: config.TypingConfig{
		TTL:           4 * time.Second,
		RenewInterval: 2 * time.Second,
	}}
	c := NewCoordinator(conf, pub, staticIdentity("alice"))
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }
	return c, &current
}

func TestAnnounceIsDebounced(t *testing.T) {
	pub := &capturePublisher{}
	c, current := newTestCoordinator(pub)
	scope := models.ChannelScope("64b000000000000000000001")
	ctx := context.Background()

	require.NoError(t, c.Announce(ctx, scope))
	require.NoError(t, c.Announce(ctx, scope))
	assert.Equal(t, 1, pub.count(), "repeat inside renew interval is dropped")

	*current = current.Add(2 * time.Second)
	require.NoError(t, c.Announce(ctx, scope))
	assert.Equal(t, 2, pub.count(), "renewal goes out at the interval boundary")
}

func TestTypistsExpireByTTL(t *testing.T) {
	pub := &capturePublisher{}
	c, current := newTestCoordinator(pub)
	scope := models.ChannelScope("64b000000000000000000001")

	require.NoError(t, c.Announce(context.Background(), scope))
	assert.Equal(t, []string{"alice"}, c.Typists(scope))

	*current = current.Add(5 * time.Second)
	assert.Empty(t, c.Typists(scope), "signal past its TTL reads as stopped")
}

func TestStopClearsImmediately(t *testing.T) {
	pub := &capturePublisher{}
	c, _ := newTestCoordinator(pub)
	scope := models.ChannelScope("64b000000000000000000001")
	ctx := context.Background()

	require.NoError(t, c.Announce(ctx, scope))
	require.NoError(t, c.Stop(ctx, scope))
	assert.Empty(t, c.Typists(scope))

	// stop resets the debounce so the next keystroke announces again
	require.NoError(t, c.Announce(ctx, scope))
	assert.Equal(t, []string{"alice"}, c.Typists(scope))
}

func TestHandleSignalMergesRemoteTypists(t *testing.T) {
	pub := &capturePublisher{}
	c, current := newTestCoordinator(pub)
	scope := models.ChannelScope("64b000000000000000000001")

	c.HandleSignal(models.TypingSignal{
		ScopeKey:  scope.Key(),
		UserID:    "bob",
		ExpiresAt: current.Add(4 * time.Second),
	})
	c.HandleSignal(models.TypingSignal{
		ScopeKey:  scope.Key(),
		UserID:    "carol",
		ExpiresAt: current.Add(4 * time.Second),
	})
	assert.Equal(t, []string{"bob", "carol"}, c.Typists(scope))

	// an already-expired signal acts as an explicit stop
	c.HandleSignal(models.TypingSignal{
		ScopeKey:  scope.Key(),
		UserID:    "bob",
		ExpiresAt: *current,
	})
	assert.Equal(t, []string{"carol"}, c.Typists(scope))
}

func TestSweepPrunesIdleScopes(t *testing.T) {
	pub := &capturePublisher{}
	c, current := newTestCoordinator(pub)
	scope := models.ChannelScope("64b000000000000000000001")

	c.HandleSignal(models.TypingSignal{
		ScopeKey:  scope.Key(),
		UserID:    "bob",
		ExpiresAt: current.Add(4 * time.Second),
	})

	*current = current.Add(10 * time.Second)
	c.Sweep()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.signals)
}

func TestRunSweepsIdleScopes(t *testing.T) {
	conf := &config.Config{Typing: config.TypingConfig{
		TTL:           10 * time.Millisecond,
		RenewInterval: 5 * time.Millisecond,
	}}
	c := NewCoordinator(conf, &capturePublisher{}, staticIdentity("alice"))
	scope := models.ChannelScope("64b000000000000000000001")
	require.NoError(t, c.Announce(context.Background(), scope))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// nobody reads Typists again; only the sweep can release the scope's map
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.signals) == 0
	}, time.Second, 10*time.Millisecond)
}
