package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/carousell/ct-go/pkg/logger"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/teamhubhq/chat-core/internal/config"
	pkgmdw "github.com/teamhubhq/chat-core/internal/server/middleware"
	"go.uber.org/fx"
)

func StartServer(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	conf *config.Config,
	handler Controller,
	ingest *IngestHandler,
	ws *WSHandler,
) {
	e := echo.New()
	e.Validator = pkgmdw.NewValidator()
	e.HTTPErrorHandler = errorHandler()

	logConfig := pkgmdw.LogRequestConfig{
		Logger: logger.MustNamed("http"),
		Enabled: func(c echo.Context) bool {
			uri := c.Request().RequestURI
			return uri != "/health" && uri != "/metrics"
		},
		KeyAndValues: func(c echo.Context) []any {
			args := make([]any, 0, 2)
			if c.Get("user_id") != nil {
				args = append(args, "user_id", c.Get("user_id"))
			}
			return args
		},
	}

	e.Use(pkgmdw.Metrics())
	e.Use(pkgmdw.RequestID())
	e.Use(pkgmdw.CORS(regexp.MustCompile(conf.Server.CORSOrigin)))
	e.Use(pkgmdw.LogRequest(logConfig))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Errorw(c.Request().Context(), "PANIC RECOVER", "error", err, "stack", string(stack))
			return nil
		},
	}))

	e.GET("/health", handler.Health)

	api := e.Group("/api/v1", identityMiddleware())
	api.POST("/events", ingest.Ingest)
	api.GET("/ws", ws.Serve)
	api.GET("/presence", handler.Presence)

	api.POST("/channels", handler.CreateChannel)
	api.GET("/channels", handler.ListChannels)
	api.GET("/channels/browse", handler.BrowseChannels)
	api.GET("/channels/:id", handler.GetChannel)
	api.POST("/channels/:id/join", handler.JoinChannel)
	api.POST("/channels/:id/leave", handler.LeaveChannel)
	api.GET("/channels/:id/members", handler.ChannelMembers)

	for _, g := range []*echo.Group{
		e.Group("/api/v1/channels/:id", identityMiddleware()),
		e.Group("/api/v1/direct/:peer", identityMiddleware()),
	} {
		g.GET("/messages", handler.Messages)
		g.POST("/messages", handler.SendMessage)
		g.POST("/messages/pending/:temp_key/retry", handler.RetryMessage)
		g.DELETE("/messages/pending/:temp_key", handler.DiscardMessage)
		g.PUT("/messages/:message_id", handler.EditMessage)
		g.DELETE("/messages/:message_id", handler.DeleteMessage)
		g.POST("/messages/:message_id/reactions", handler.ToggleReaction)
		g.POST("/typing", handler.Typing)
		g.DELETE("/typing", handler.StopTyping)
		g.GET("/typing", handler.Typists)
		g.POST("/read", handler.MarkRead)
		g.GET("/unread", handler.Unread)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow(ctx, "starting HTTP server", "addr", conf.Server.Addr)
				if err := e.Start(conf.Server.Addr); !errors.Is(err, http.ErrServerClosed) {
					sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}
