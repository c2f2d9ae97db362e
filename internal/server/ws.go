package server

import (
	"net/http"
	"time"

	"github.com/carousell/ct-go/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/teamhubhq/chat-core/internal/models"
	"github.com/teamhubhq/chat-core/internal/presence"
	"github.com/teamhubhq/chat-core/internal/relay"
	"github.com/teamhubhq/chat-core/internal/typing"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSHandler upgrades push connections and bridges them to the relay hub.
// Inbound frames carry subscription changes and typing signals; outbound
// frames are feed events for the client's topics.
type WSHandler struct {
	hub      *relay.Hub
	typing   *typing.Coordinator
	presence *presence.Tracker
	upgrader websocket.Upgrader
	log      *logger.Logger
}

type wsCommand struct {
	Action   string `json:"action"`
	ScopeKey string `json:"scope_key,omitempty"`
}

func NewWSHandler(hub *relay.Hub, typingCoordinator *typing.Coordinator, presenceTracker *presence.Tracker) *WSHandler {
	return &WSHandler{
		hub:      hub,
		typing:   typingCoordinator,
		presence: presenceTracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.MustNamed("ws"),
	}
}

func (h *WSHandler) Serve(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing identity")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := h.hub.Register(userID)
	h.presence.Touch(userID, time.Now().UTC())

	go h.writeLoop(conn, client)
	h.readLoop(c, conn, client, userID)
	return nil
}

func (h *WSHandler) readLoop(c echo.Context, conn *websocket.Conn, client *relay.Client, userID string) {
	defer func() {
		h.hub.Drop(client)
		conn.Close()
	}()

	conn.SetReadLimit(1 << 16)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.presence.Touch(userID, time.Now().UTC())
		return nil
	})

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugw("push connection closed", "user_id", userID, "error", err)
			}
			return
		}
		h.presence.Touch(userID, time.Now().UTC())
		h.handleCommand(c, client, userID, cmd)
	}
}

func (h *WSHandler) handleCommand(c echo.Context, client *relay.Client, userID string, cmd wsCommand) {
	scope, err := models.ParseScopeKey(cmd.ScopeKey)
	if err != nil && cmd.Action != "ping" {
		h.log.Debugw("invalid scope in command", "user_id", userID, "action", cmd.Action, "scope", cmd.ScopeKey)
		return
	}

	ctx := c.Request().Context()
	switch cmd.Action {
	case "subscribe":
		if err := h.hub.Subscribe(client, scope); err != nil {
			h.log.Warnw("subscribe failed", "user_id", userID, "scope", cmd.ScopeKey, "error", err)
		}
	case "unsubscribe":
		h.hub.Unsubscribe(client, scope)
	case "typing":
		if err := h.typing.Announce(ctx, scope); err != nil {
			h.log.Debugw("typing announce failed", "user_id", userID, "error", err)
		}
	case "typing_stop":
		if err := h.typing.Stop(ctx, scope); err != nil {
			h.log.Debugw("typing stop failed", "user_id", userID, "error", err)
		}
	case "ping":
	default:
		h.log.Debugw("unknown command", "user_id", userID, "action", cmd.Action)
	}
}

func (h *WSHandler) writeLoop(conn *websocket.Conn, client *relay.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-client.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
