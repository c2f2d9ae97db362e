package gamify

import (
	"context"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/models"
	"github.com/teamhubhq/chat-core/pkg/util"
	"github.com/go-resty/resty/v2"
)

// Client reports conversation activity to the engagement service.
// Emissions are fire and forget: a failure is logged and the message
// flow is never blocked on it.
type Client interface {
	MessageSent(ctx context.Context, scopeKey, userID string)
	ReactionAdded(ctx context.Context, messageID models.ObjectID, userID string)
}

type activityEvent struct {
	Name       string `json:"name"`
	UserID     string `json:"user_id"`
	ScopeKey   string `json:"scope_key,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type client struct {
	http *resty.Client
}

type noopClient struct{}

func NewClient(conf *config.Config) Client {
	if !conf.Gamify.Enabled {
		return noopClient{}
	}
	rc := util.NewRestyClient().
		SetBaseURL(conf.Gamify.BaseURL)
	return &client{http: rc}
}

func (c *client) MessageSent(ctx context.Context, scopeKey, userID string) {
	c.emit(ctx, activityEvent{
		Name:       "chat.message_sent",
		UserID:     userID,
		ScopeKey:   scopeKey,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *client) ReactionAdded(ctx context.Context, messageID models.ObjectID, userID string) {
	c.emit(ctx, activityEvent{
		Name:       "chat.reaction_added",
		UserID:     userID,
		MessageID:  string(messageID),
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *client) emit(ctx context.Context, ev activityEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(ev).
			Post("/v1/activities")
		if err != nil {
			log.Warnw(ctx, "failed to emit activity event",
				"event", ev.Name,
				"error", err)
			return
		}
		if resp.IsError() {
			log.Warnw(ctx, "engagement service rejected activity event",
				"event", ev.Name,
				"status", resp.StatusCode())
		}
	}()
}

func (noopClient) MessageSent(ctx context.Context, scopeKey, userID string)                   {}
func (noopClient) ReactionAdded(ctx context.Context, messageID models.ObjectID, userID string) {}
