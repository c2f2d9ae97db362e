package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/conversation"
	"github.com/teamhubhq/chat-core/internal/feed"
	"github.com/teamhubhq/chat-core/internal/models"
	"github.com/teamhubhq/chat-core/internal/repo/mongodb"
	"github.com/teamhubhq/chat-core/internal/repo/objectstore"
)

var testScope = models.ChannelScope("64b000000000000000000001")

type fakeMessageRepo struct {
	mu      sync.Mutex
	nextID  models.ObjectID
	failIns bool

	inserted []models.Message
	patched  []models.ObjectID
	tombed   []models.ObjectID
	byID     map[models.ObjectID]*models.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		nextID: "64b0000000000000000000aa",
		byID:   make(map[models.ObjectID]*models.Message),
	}
}

func (f *fakeMessageRepo) Insert(_ context.Context, message *models.Message) (mongodb.InsertAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIns {
		return mongodb.InsertAck{}, errors.New("store unavailable")
	}
	ack := mongodb.InsertAck{ID: f.nextID, CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	cp := *message
	cp.ID = ack.ID
	cp.CreatedAt = ack.CreatedAt
	f.inserted = append(f.inserted, cp)
	f.byID[ack.ID] = &cp
	return ack, nil
}

func (f *fakeMessageRepo) GetByID(_ context.Context, id models.ObjectID) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.byID[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeMessageRepo) Query(context.Context, models.Scope, *time.Time) ([]*models.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) ApplyPatch(_ context.Context, id models.ObjectID, patch models.MessagePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.byID[id]; ok {
		patch.Apply(m)
	}
	f.patched = append(f.patched, id)
	return nil
}

func (f *fakeMessageRepo) Tombstone(_ context.Context, id models.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tombed = append(f.tombed, id)
	return nil
}

func (f *fakeMessageRepo) ToggleReaction(context.Context, models.ReactionOp) error { return nil }

type fakeChannelRepo struct {
	mu          sync.Mutex
	lastMessage []models.ObjectID
	members     []string
	browseCalls []browseCall
}

type browseCall struct {
	limit int64
	skip  int64
}

func (f *fakeChannelRepo) Create(context.Context, *models.Channel) error { return nil }
func (f *fakeChannelRepo) GetByID(context.Context, models.ObjectID) (*models.Channel, error) {
	return &models.Channel{}, nil
}
func (f *fakeChannelRepo) ListForUser(context.Context, string) ([]models.Channel, error) {
	return nil, nil
}
func (f *fakeChannelRepo) Browse(_ context.Context, limit, skip int64) ([]models.Channel, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.browseCalls = append(f.browseCalls, browseCall{limit: limit, skip: skip})
	return nil, 0, nil
}
func (f *fakeChannelRepo) UpdateLastMessage(_ context.Context, id models.ObjectID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMessage = append(f.lastMessage, id)
	return nil
}
func (f *fakeChannelRepo) AddMember(context.Context, *models.ChannelMember) error    { return nil }
func (f *fakeChannelRepo) RemoveMember(context.Context, models.ObjectID, string) error { return nil }
func (f *fakeChannelRepo) Members(context.Context, models.ObjectID) ([]models.ChannelMember, error) {
	return nil, nil
}
func (f *fakeChannelRepo) MemberIDs(context.Context, models.ObjectID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members, nil
}

type fakeUnreadRepo struct {
	mu      sync.Mutex
	bumps   int
	senders []string
}

func (f *fakeUnreadRepo) IncrementForOthers(_ context.Context, _ models.Scope, senderID string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bumps++
	f.senders = append(f.senders, senderID)
	return nil
}
func (f *fakeUnreadRepo) Reset(context.Context, models.Scope, string) error { return nil }
func (f *fakeUnreadRepo) Get(context.Context, models.Scope, string) (int, error) { return 0, nil }

type passthroughObjects struct{}

func (passthroughObjects) Resolve(_ context.Context, ref string) (*objectstore.ResolvedAttachment, error) {
	return &objectstore.ResolvedAttachment{Ref: ref, Name: ref + ".bin", Size: 1}, nil
}
func (p passthroughObjects) ResolveAll(ctx context.Context, atts []models.Attachment) ([]models.Attachment, error) {
	out := make([]models.Attachment, 0, len(atts))
	for _, a := range atts {
		r, _ := p.Resolve(ctx, a.Ref)
		out = append(out, models.Attachment{Ref: r.Ref, Name: r.Name, Size: r.Size})
	}
	return out, nil
}

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

func (p *capturePublisher) all() []models.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ChangeEvent(nil), p.events...)
}

type countGamify struct {
	mu       sync.Mutex
	messages int
}

func (g *countGamify) MessageSent(context.Context, string, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages++
}
func (g *countGamify) ReactionAdded(context.Context, models.ObjectID, string) {}

type staticIdentity string

func (s staticIdentity) CurrentUser(context.Context) (string, error) {
	if s == "" {
		return "", models.ErrPermissionDenied
	}
	return string(s), nil
}

type fixture struct {
	uc      MessageUsecase
	manager *conversation.Manager
	repo    *fakeMessageRepo
	channel *fakeChannelRepo
	unread  *fakeUnreadRepo
	pub     *capturePublisher
	gamify  *countGamify
}

func newFixture(user string) *fixture {
	conf := &config.Config{Feed: config.FeedConfig{ResyncSkew: 30 * time.Second, OrphanTTL: 30 * time.Second}}
	repo := newFakeMessageRepo()
	manager := conversation.NewManager(feed.NewRouter(), repo, nil, nil, conf)
	channel := &fakeChannelRepo{members: []string{"alice", "bob", "carol"}}
	unread := &fakeUnreadRepo{}
	pub := &capturePublisher{}
	g := &countGamify{}
	return &fixture{
		uc: NewMessageUsecase(manager, repo, channel, unread,
			passthroughObjects{}, pub, g, staticIdentity(user)),
		manager: manager,
		repo:    repo,
		channel: channel,
		unread:  unread,
		pub:     pub,
		gamify:  g,
	}
}

func TestSendConfirmsOptimisticWrite(t *testing.T) {
	f := newFixture("alice")
	ctx := context.Background()

	msg, err := f.uc.Send(ctx, testScope, Draft{Body: "hi"})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, f.repo.nextID, msg.ID)
	assert.Equal(t, models.StatusConfirmed, msg.Status)

	store, ok := f.manager.Store(testScope)
	require.True(t, ok)
	entries := store.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusConfirmed, entries[0].Status)
	assert.Empty(t, entries[0].TempKey)

	events := f.pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventInserted, events[0].Type)
	require.NotNil(t, events[0].Message)
	assert.Empty(t, events[0].Message.TempKey, "local bookkeeping must not leak into the feed")

	assert.Equal(t, []models.ObjectID{models.ObjectID(testScope.ChannelID)}, f.channel.lastMessage)
	assert.Equal(t, []string{"alice"}, f.unread.senders)
	assert.Equal(t, 1, f.gamify.messages)
}

func TestSendFailureKeepsEntryForRetry(t *testing.T) {
	f := newFixture("alice")
	f.repo.failIns = true
	ctx := context.Background()

	msg, err := f.uc.Send(ctx, testScope, Draft{Body: "doomed"})
	require.Error(t, err)
	require.NotNil(t, msg, "the pending entry is returned so the client can offer retry")

	store, ok := f.manager.Store(testScope)
	require.True(t, ok)
	entries := store.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusFailed, entries[0].Status)
	assert.Empty(t, f.pub.all(), "no feed event for a failed write")

	// retry after the store recovers
	f.repo.failIns = false
	require.NoError(t, f.uc.Retry(ctx, testScope, msg.TempKey))

	entries = store.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusConfirmed, entries[0].Status)
}

func TestDiscardRemovesFailedWrite(t *testing.T) {
	f := newFixture("alice")
	f.repo.failIns = true
	ctx := context.Background()

	msg, err := f.uc.Send(ctx, testScope, Draft{Body: "doomed"})
	require.Error(t, err)

	require.NoError(t, f.uc.Discard(ctx, testScope, msg.TempKey))

	store, _ := f.manager.Store(testScope)
	assert.Equal(t, 0, store.Len())
}

func TestSendRejectsEmptyDraft(t *testing.T) {
	f := newFixture("alice")
	_, err := f.uc.Send(context.Background(), testScope, Draft{Body: "   "})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestSendResolvesAttachments(t *testing.T) {
	f := newFixture("alice")

	msg, err := f.uc.Send(context.Background(), testScope, Draft{AttachmentRefs: []string{"ref-1"}})
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "ref-1.bin", msg.Attachments[0].Name)
}

func TestEditIsAuthorOnly(t *testing.T) {
	f := newFixture("alice")
	ctx := context.Background()

	msg, err := f.uc.Send(ctx, testScope, Draft{Body: "original"})
	require.NoError(t, err)

	mallory := NewMessageUsecase(f.manager, f.repo, f.channel, f.unread,
		passthroughObjects{}, f.pub, f.gamify, staticIdentity("mallory"))
	err = mallory.Edit(ctx, testScope, msg.ID, "hijacked")
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	require.NoError(t, f.uc.Edit(ctx, testScope, msg.ID, "fixed"))
	assert.Contains(t, f.repo.patched, msg.ID)

	events := f.pub.all()
	last := events[len(events)-1]
	assert.Equal(t, models.EventUpdated, last.Type)
	require.NotNil(t, last.Patch)
	assert.Equal(t, "fixed", *last.Patch.Body)
}

func TestDeletePublishesTombstone(t *testing.T) {
	f := newFixture("alice")
	ctx := context.Background()

	msg, err := f.uc.Send(ctx, testScope, Draft{Body: "bye"})
	require.NoError(t, err)

	require.NoError(t, f.uc.Delete(ctx, testScope, msg.ID))
	assert.Contains(t, f.repo.tombed, msg.ID)

	events := f.pub.all()
	last := events[len(events)-1]
	assert.Equal(t, models.EventDeleted, last.Type)
	assert.Equal(t, msg.ID, last.MessageID)
}
