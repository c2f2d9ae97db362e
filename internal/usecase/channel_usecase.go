package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teamhubhq/chat-core/internal/models"
	"github.com/teamhubhq/chat-core/internal/repo/identity"
	"github.com/teamhubhq/chat-core/internal/repo/mongodb"
)

type ChannelUsecase interface {
	Create(ctx context.Context, name string, private bool) (*models.Channel, error)
	Get(ctx context.Context, id models.ObjectID) (*models.Channel, error)
	List(ctx context.Context) ([]models.Channel, error)
	Browse(ctx context.Context, page, limit int) ([]models.Channel, int64, error)
	Join(ctx context.Context, id models.ObjectID) error
	Leave(ctx context.Context, id models.ObjectID) error
	Members(ctx context.Context, id models.ObjectID) ([]models.ChannelMember, error)
	MarkRead(ctx context.Context, scope models.Scope) error
	Unread(ctx context.Context, scope models.Scope) (int, error)
}

type channelUsecase struct {
	channelRepo mongodb.ChannelRepository
	unreadRepo  mongodb.UnreadCountRepository
	identity    identity.Provider
}

func NewChannelUsecase(
	channelRepo mongodb.ChannelRepository,
	unreadRepo mongodb.UnreadCountRepository,
	identityProvider identity.Provider,
) ChannelUsecase {
	return &channelUsecase{
		channelRepo: channelRepo,
		unreadRepo:  unreadRepo,
		identity:    identityProvider,
	}
}

func (uc *channelUsecase) Create(ctx context.Context, name string, private bool) (*models.Channel, error) {
	user, err := uc.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.ErrInvalidArgument
	}
	channel := &models.Channel{
		Name:      name,
		CreatorID: user,
		Private:   private,
	}
	if err := uc.channelRepo.Create(ctx, channel); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	return channel, nil
}

func (uc *channelUsecase) Get(ctx context.Context, id models.ObjectID) (*models.Channel, error) {
	return uc.channelRepo.GetByID(ctx, id)
}

func (uc *channelUsecase) List(ctx context.Context) ([]models.Channel, error) {
	user, err := uc.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return uc.channelRepo.ListForUser(ctx, user)
}

const (
	defaultBrowseLimit = 20
	maxBrowseLimit     = 100
)

// Browse pages through the public channel directory. Page numbers start
// at 1; out-of-range inputs are clamped rather than rejected.
func (uc *channelUsecase) Browse(ctx context.Context, page, limit int) ([]models.Channel, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultBrowseLimit
	}
	if limit > maxBrowseLimit {
		limit = maxBrowseLimit
	}
	skip := int64(page-1) * int64(limit)
	return uc.channelRepo.Browse(ctx, int64(limit), skip)
}

func (uc *channelUsecase) Join(ctx context.Context, id models.ObjectID) error {
	user, err := uc.identity.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if _, err := uc.channelRepo.GetByID(ctx, id); err != nil {
		return err
	}
	return uc.channelRepo.AddMember(ctx, &models.ChannelMember{
		ChannelID: id,
		UserID:    user,
		Role:      models.MemberRoleMember,
		JoinedAt:  time.Now().UTC(),
	})
}

func (uc *channelUsecase) Leave(ctx context.Context, id models.ObjectID) error {
	user, err := uc.identity.CurrentUser(ctx)
	if err != nil {
		return err
	}
	return uc.channelRepo.RemoveMember(ctx, id, user)
}

func (uc *channelUsecase) Members(ctx context.Context, id models.ObjectID) ([]models.ChannelMember, error) {
	return uc.channelRepo.Members(ctx, id)
}

// MarkRead zeroes the caller's unread counter for the scope. It is called
// when the client brings the conversation into view.
func (uc *channelUsecase) MarkRead(ctx context.Context, scope models.Scope) error {
	user, err := uc.identity.CurrentUser(ctx)
	if err != nil {
		return err
	}
	return uc.unreadRepo.Reset(ctx, scope, user)
}

func (uc *channelUsecase) Unread(ctx context.Context, scope models.Scope) (int, error) {
	user, err := uc.identity.CurrentUser(ctx)
	if err != nil {
		return 0, err
	}
	return uc.unreadRepo.Get(ctx, scope, user)
}
