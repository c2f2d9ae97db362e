package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/teamhubhq/chat-core/internal/conversation"
	"github.com/teamhubhq/chat-core/internal/models"
	"github.com/teamhubhq/chat-core/internal/presence"
	"github.com/teamhubhq/chat-core/internal/reaction"
	"github.com/teamhubhq/chat-core/internal/typing"
	"github.com/teamhubhq/chat-core/internal/usecase"
)

type Controller interface {
	Health(c echo.Context) error

	CreateChannel(c echo.Context) error
	GetChannel(c echo.Context) error
	ListChannels(c echo.Context) error
	BrowseChannels(c echo.Context) error
	JoinChannel(c echo.Context) error
	LeaveChannel(c echo.Context) error
	ChannelMembers(c echo.Context) error

	Messages(c echo.Context) error
	SendMessage(c echo.Context) error
	RetryMessage(c echo.Context) error
	DiscardMessage(c echo.Context) error
	EditMessage(c echo.Context) error
	DeleteMessage(c echo.Context) error

	ToggleReaction(c echo.Context) error
	Typing(c echo.Context) error
	StopTyping(c echo.Context) error
	Typists(c echo.Context) error
	MarkRead(c echo.Context) error
	Unread(c echo.Context) error
	Presence(c echo.Context) error
}

type controller struct {
	messages  usecase.MessageUsecase
	channels  usecase.ChannelUsecase
	manager   *conversation.Manager
	typing    *typing.Coordinator
	presence  *presence.Tracker
	reactions *reaction.Aggregator
}

func NewController(
	messages usecase.MessageUsecase,
	channels usecase.ChannelUsecase,
	manager *conversation.Manager,
	typingCoordinator *typing.Coordinator,
	presenceTracker *presence.Tracker,
	reactions *reaction.Aggregator,
) Controller {
	return &controller{
		messages:  messages,
		channels:  channels,
		manager:   manager,
		typing:    typingCoordinator,
		presence:  presenceTracker,
		reactions: reactions,
	}
}

func (h *controller) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "chat-core",
	})
}

type createChannelRequest struct {
	Name    string `json:"name" validate:"required"`
	Private bool   `json:"private"`
}

func (h *controller) CreateChannel(c echo.Context) error {
	var req createChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	channel, err := h.channels.Create(c.Request().Context(), req.Name, req.Private)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, channel)
}

func (h *controller) GetChannel(c echo.Context) error {
	channel, err := h.channels.Get(c.Request().Context(), models.ObjectID(c.Param("id")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, channel)
}

func (h *controller) ListChannels(c echo.Context) error {
	channels, err := h.channels.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, channels)
}

type browseChannelsResponse struct {
	Channels []models.Channel `json:"channels"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	Count    int              `json:"count"`
}

func (h *controller) BrowseChannels(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	channels, total, err := h.channels.Browse(c.Request().Context(), page, limit)
	if err != nil {
		return err
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	return c.JSON(http.StatusOK, browseChannelsResponse{
		Channels: channels,
		Total:    total,
		Page:     page,
		Count:    len(channels),
	})
}

func (h *controller) JoinChannel(c echo.Context) error {
	if err := h.channels.Join(c.Request().Context(), models.ObjectID(c.Param("id"))); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controller) LeaveChannel(c echo.Context) error {
	if err := h.channels.Leave(c.Request().Context(), models.ObjectID(c.Param("id"))); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controller) ChannelMembers(c echo.Context) error {
	members, err := h.channels.Members(c.Request().Context(), models.ObjectID(c.Param("id")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, members)
}

// Messages opens the conversation if needed and returns the merged local
// view, pending entries included, in timeline order.
func (h *controller) Messages(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	store, err := h.manager.Open(c.Request().Context(), scope)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, store.Messages())
}

type sendMessageRequest struct {
	usecase.Draft
}

func (h *controller) SendMessage(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	msg, err := h.messages.Send(c.Request().Context(), scope, req.Draft)
	if err != nil {
		if msg != nil {
			// The write failed but the entry is kept locally for retry.
			return c.JSON(http.StatusAccepted, msg)
		}
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *controller) RetryMessage(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	if err := h.messages.Retry(c.Request().Context(), scope, c.Param("temp_key")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controller) DiscardMessage(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	if err := h.messages.Discard(c.Request().Context(), scope, c.Param("temp_key")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type editMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

func (h *controller) EditMessage(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	var req editMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.messages.Edit(c.Request().Context(), scope, models.ObjectID(c.Param("message_id")), req.Body); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controller) DeleteMessage(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	if err := h.messages.Delete(c.Request().Context(), scope, models.ObjectID(c.Param("message_id"))); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji" validate:"required"`
}

func (h *controller) ToggleReaction(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	var req toggleReactionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID, _ := c.Get("user_id").(string)
	if err := h.reactions.Toggle(c.Request().Context(), scope, models.ObjectID(c.Param("message_id")), req.Emoji, userID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controller) Typing(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	if err := h.typing.Announce(c.Request().Context(), scope); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controller) StopTyping(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	if err := h.typing.Stop(c.Request().Context(), scope); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controller) Typists(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"typists": h.typing.Typists(scope),
	})
}

func (h *controller) MarkRead(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	if err := h.channels.MarkRead(c.Request().Context(), scope); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controller) Unread(c echo.Context) error {
	scope, err := scopeFromRequest(c)
	if err != nil {
		return err
	}
	count, err := h.channels.Unread(c.Request().Context(), scope)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

type presenceEntry struct {
	UserID   string    `json:"user_id"`
	State    string    `json:"state"`
	LastSeen time.Time `json:"last_seen"`
}

func (h *controller) Presence(c echo.Context) error {
	records := h.presence.Snapshot()
	out := make([]presenceEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, presenceEntry{
			UserID:   rec.UserID,
			State:    string(rec.State),
			LastSeen: rec.LastSeen,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// scopeFromRequest derives the conversation scope from the route: channel
// routes carry the channel id as a path param, direct routes carry the
// peer and resolve against the caller identity.
func scopeFromRequest(c echo.Context) (models.Scope, error) {
	if id := c.Param("id"); id != "" && c.Param("peer") == "" {
		return models.ChannelScope(id), nil
	}
	if peer := c.Param("peer"); peer != "" {
		userID, _ := c.Get("user_id").(string)
		if userID == "" || peer == userID {
			return models.Scope{}, echo.NewHTTPError(http.StatusBadRequest, "invalid direct scope")
		}
		return models.DirectScope(userID, peer), nil
	}
	return models.Scope{}, echo.NewHTTPError(http.StatusBadRequest, "missing conversation scope")
}
