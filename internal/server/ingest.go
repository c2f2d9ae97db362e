package server

import (
	"net/http"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/labstack/echo/v4"
	"github.com/teamhubhq/chat-core/internal/feed"
	"github.com/teamhubhq/chat-core/internal/models"
	"github.com/teamhubhq/chat-core/internal/repo/mongodb"
)

// IngestHandler accepts change events pushed by the durable store's
// change stream forwarder. Delivery there is at-least-once, so events
// carrying an id are deduplicated before they hit the router.
type IngestHandler struct {
	router *feed.Router
	dedup  mongodb.EventDedupRepository
}

func NewIngestHandler(router *feed.Router, dedup mongodb.EventDedupRepository) *IngestHandler {
	return &IngestHandler{
		router: router,
		dedup:  dedup,
	}
}

func (h *IngestHandler) Ingest(c echo.Context) error {
	var ev models.ChangeEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event body")
	}
	if err := c.Validate(ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	ctx := c.Request().Context()
	if ev.EventID != "" {
		seen, err := h.dedup.MarkSeen(ctx, ev.EventID, ev.ScopeKey)
		if err != nil {
			// Dedup is best effort; consumers merge idempotently anyway.
			log.Warnw(ctx, "event dedup check failed", "event_id", ev.EventID, "error", err)
		} else if seen {
			return c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
		}
	}

	h.router.Dispatch(ev)
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}
