package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/google/uuid"
	"github.com/teamhubhq/chat-core/internal/conversation"
	"github.com/teamhubhq/chat-core/internal/feed"
	"github.com/teamhubhq/chat-core/internal/models"
	"github.com/teamhubhq/chat-core/internal/repo/gamify"
	"github.com/teamhubhq/chat-core/internal/repo/identity"
	"github.com/teamhubhq/chat-core/internal/repo/mongodb"
	"github.com/teamhubhq/chat-core/internal/repo/objectstore"
)

// Draft is the author-side input to Send. Attachment refs are resolved
// against the object store before the message is written.
type Draft struct {
	Body           string           `json:"body"`
	ParentID       *models.ObjectID `json:"parent_id,omitempty"`
	AttachmentRefs []string         `json:"attachment_refs,omitempty"`
	Mentions       []string         `json:"mentions,omitempty"`
}

type MessageUsecase interface {
	// Send writes a message optimistically: the returned message is
	// already visible locally with a pending status, and is promoted or
	// failed in place once the durable write settles.
	Send(ctx context.Context, scope models.Scope, draft Draft) (*models.Message, error)
	Retry(ctx context.Context, scope models.Scope, tempKey string) error
	Discard(ctx context.Context, scope models.Scope, tempKey string) error
	Edit(ctx context.Context, scope models.Scope, id models.ObjectID, body string) error
	Delete(ctx context.Context, scope models.Scope, id models.ObjectID) error
}

type messageUsecase struct {
	manager     *conversation.Manager
	messageRepo mongodb.MessageRepository
	channelRepo mongodb.ChannelRepository
	unreadRepo  mongodb.UnreadCountRepository
	objects     objectstore.Client
	publisher   feed.Publisher
	gamify      gamify.Client
	identity    identity.Provider
}

func NewMessageUsecase(
	manager *conversation.Manager,
	messageRepo mongodb.MessageRepository,
	channelRepo mongodb.ChannelRepository,
	unreadRepo mongodb.UnreadCountRepository,
	objects objectstore.Client,
	publisher feed.Publisher,
	gamifyClient gamify.Client,
	identityProvider identity.Provider,
) MessageUsecase {
	return &messageUsecase{
		manager:     manager,
		messageRepo: messageRepo,
		channelRepo: channelRepo,
		unreadRepo:  unreadRepo,
		objects:     objects,
		publisher:   publisher,
		gamify:      gamifyClient,
		identity:    identityProvider,
	}
}

func (uc *messageUsecase) Send(ctx context.Context, scope models.Scope, draft Draft) (*models.Message, error) {
	sender, err := uc.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := uc.compose(ctx, scope, sender, draft)
	if err != nil {
		return nil, err
	}

	store, err := uc.manager.Open(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation: %w", err)
	}
	store.AddPending(msg)

	if err := uc.settle(ctx, scope, store, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Retry re-runs the durable write for a message whose previous attempt
// failed. The temp key and the locally visible entry are kept, so the
// message does not move in the timeline on success.
func (uc *messageUsecase) Retry(ctx context.Context, scope models.Scope, tempKey string) error {
	store, ok := uc.manager.Store(scope)
	if !ok {
		return models.ErrNotFound
	}
	pending, ok := store.Pending(tempKey)
	if !ok {
		return models.ErrNotFound
	}
	if pending.Status != models.StatusFailed {
		return models.ErrInvalidArgument
	}
	msg := pending
	msg.Status = models.StatusPending
	return uc.settle(ctx, scope, store, &msg)
}

func (uc *messageUsecase) Discard(ctx context.Context, scope models.Scope, tempKey string) error {
	store, ok := uc.manager.Store(scope)
	if !ok {
		return models.ErrNotFound
	}
	store.DiscardPending(tempKey)
	return nil
}

func (uc *messageUsecase) Edit(ctx context.Context, scope models.Scope, id models.ObjectID, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return models.ErrInvalidArgument
	}
	msg, err := uc.authorOnly(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	patch := models.MessagePatch{
		Body:      &body,
		EditedAt:  &now,
		UpdatedAt: now,
	}
	if err := uc.messageRepo.ApplyPatch(ctx, id, patch); err != nil {
		return fmt.Errorf("failed to apply edit: %w", err)
	}

	return uc.publisher.Publish(ctx, models.ChangeEvent{
		EventID:    uuid.NewString(),
		Type:       models.EventUpdated,
		ScopeKey:   msg.ScopeKey,
		OccurredAt: now,
		MessageID:  id,
		Patch:      &patch,
	})
}

// Delete tombstones the message: the entry keeps its position in the
// timeline with its content blanked, it is never physically removed.
func (uc *messageUsecase) Delete(ctx context.Context, scope models.Scope, id models.ObjectID) error {
	msg, err := uc.authorOnly(ctx, id)
	if err != nil {
		return err
	}
	if err := uc.messageRepo.Tombstone(ctx, id); err != nil {
		return fmt.Errorf("failed to tombstone message: %w", err)
	}
	return uc.publisher.Publish(ctx, models.ChangeEvent{
		EventID:    uuid.NewString(),
		Type:       models.EventDeleted,
		ScopeKey:   msg.ScopeKey,
		OccurredAt: time.Now().UTC(),
		MessageID:  id,
	})
}

func (uc *messageUsecase) compose(ctx context.Context, scope models.Scope, sender string, draft Draft) (*models.Message, error) {
	body := strings.TrimSpace(draft.Body)
	if body == "" && len(draft.AttachmentRefs) == 0 {
		return nil, models.ErrInvalidArgument
	}

	refs := make([]models.Attachment, 0, len(draft.AttachmentRefs))
	for _, ref := range draft.AttachmentRefs {
		refs = append(refs, models.Attachment{Ref: ref})
	}
	attachments, err := uc.objects.ResolveAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve attachments: %w", err)
	}

	return &models.Message{
		ScopeKey:    scope.Key(),
		SenderID:    sender,
		Body:        body,
		ParentID:    draft.ParentID,
		CreatedAt:   time.Now().UTC(),
		Attachments: attachments,
		Mentions:    draft.Mentions,
		TempKey:     uuid.NewString(),
		Status:      models.StatusPending,
	}, nil
}

// settle performs the durable write and reconciles the local entry with
// the outcome. A failed write leaves the entry visible in a failed state
// so the author can retry or discard it.
func (uc *messageUsecase) settle(ctx context.Context, scope models.Scope, store *conversation.Store, msg *models.Message) error {
	ack, err := uc.messageRepo.Insert(ctx, msg)
	if err != nil {
		store.FailPending(msg.TempKey)
		return fmt.Errorf("failed to write message: %w", err)
	}
	store.ConfirmPending(msg.TempKey, ack.ID, ack.CreatedAt)
	msg.ID = ack.ID
	msg.CreatedAt = ack.CreatedAt
	msg.Status = models.StatusConfirmed

	confirmed := *msg
	confirmed.TempKey = ""
	confirmed.Status = ""
	if err := uc.publisher.Publish(ctx, models.ChangeEvent{
		EventID:    uuid.NewString(),
		Type:       models.EventInserted,
		ScopeKey:   msg.ScopeKey,
		OccurredAt: ack.CreatedAt,
		Message:    &confirmed,
	}); err != nil {
		log.Warnw(ctx, "failed to publish message event",
			"scope", msg.ScopeKey,
			"message_id", ack.ID,
			"error", err)
	}

	uc.fanoutSideEffects(ctx, scope, msg)
	return nil
}

func (uc *messageUsecase) fanoutSideEffects(ctx context.Context, scope models.Scope, msg *models.Message) {
	if scope.Kind == models.ScopeChannel {
		channelID := models.ObjectID(scope.ChannelID)
		if err := uc.channelRepo.UpdateLastMessage(ctx, channelID, msg.CreatedAt); err != nil {
			log.Warnw(ctx, "failed to bump channel last message", "channel_id", channelID, "error", err)
		}
		memberIDs, err := uc.channelRepo.MemberIDs(ctx, channelID)
		if err != nil {
			log.Warnw(ctx, "failed to list channel members", "channel_id", channelID, "error", err)
		} else if err := uc.unreadRepo.IncrementForOthers(ctx, scope, msg.SenderID, memberIDs); err != nil {
			log.Warnw(ctx, "failed to bump unread counts", "channel_id", channelID, "error", err)
		}
	} else if scope.Kind == models.ScopeDirect {
		if err := uc.unreadRepo.IncrementForOthers(ctx, scope, msg.SenderID, []string{scope.UserA, scope.UserB}); err != nil {
			log.Warnw(ctx, "failed to bump unread counts", "scope", scope.Key(), "error", err)
		}
	}
	uc.gamify.MessageSent(ctx, msg.ScopeKey, msg.SenderID)
}

func (uc *messageUsecase) authorOnly(ctx context.Context, id models.ObjectID) (*models.Message, error) {
	user, err := uc.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := uc.messageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != user {
		return nil, models.ErrPermissionDenied
	}
	if msg.Deleted {
		return nil, models.ErrNotFound
	}
	return msg, nil
}
