package app

import (
	"github.com/carousell/ct-go/pkg/logger"
	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/conversation"
	"github.com/teamhubhq/chat-core/internal/feed"
	"github.com/teamhubhq/chat-core/internal/presence"
	"github.com/teamhubhq/chat-core/internal/reaction"
	"github.com/teamhubhq/chat-core/internal/relay"
	"github.com/teamhubhq/chat-core/internal/repo/gamify"
	"github.com/teamhubhq/chat-core/internal/repo/identity"
	"github.com/teamhubhq/chat-core/internal/repo/mongodb"
	"github.com/teamhubhq/chat-core/internal/repo/objectstore"
	"github.com/teamhubhq/chat-core/internal/server"
	"github.com/teamhubhq/chat-core/internal/typing"
	"github.com/teamhubhq/chat-core/internal/usecase"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"
)

func Invoke(funcs ...any) *fx.App {
	log := logger.MustNamed("app")
	conf := config.MustLoad()
	log.Debugw("config loaded", log.Reflect("config", conf))
	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{
				Logger: log.Unwrap().Desugar(),
			}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Provide(
			newMongoDB,

			feed.NewRouter,
			asFeedClient,
			feed.NewConsumer,
			feed.NewPublisher,

			conversation.NewManager,
			asQuerier,
			asTypingSink,
			asReactionSink,

			presence.NewTracker,
			typing.NewCoordinator,
			reaction.NewAggregator,
			asReactionToggler,
			asReactionEmitter,
			relay.NewHub,

			usecase.NewMessageUsecase,
			usecase.NewChannelUsecase,

			mongodb.NewMessageRepository,
			mongodb.NewChannelRepository,
			mongodb.NewUnreadCountRepository,
			mongodb.NewEventDedupRepository,

			objectstore.NewClient,
			gamify.NewClient,
			identity.NewProvider,
			asPresenceIdentity,
			asTypingIdentity,

			server.NewController,
			server.NewIngestHandler,
			server.NewWSHandler,
		),
		fx.Supply(conf),
		fx.Invoke(funcs...),
	)
}

func asFeedClient(r *feed.Router) feed.Client { return r }

func asQuerier(r mongodb.MessageRepository) conversation.Querier { return r }

func asTypingSink(c *typing.Coordinator) conversation.TypingSink { return c }

func asReactionSink(a *reaction.Aggregator) conversation.ReactionSink { return a }

func asReactionToggler(r mongodb.MessageRepository) reaction.Toggler { return r }

func asReactionEmitter(c gamify.Client) reaction.Emitter { return c }

func asPresenceIdentity(p identity.Provider) presence.IdentityProvider { return p }

func asTypingIdentity(p identity.Provider) typing.IdentityProvider { return p }
