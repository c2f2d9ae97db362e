package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/models"
	"go.uber.org/fx"
)

// Publisher pushes change events onto the backend change topic. Ephemeral
// signals (typing, presence heartbeats) use the same transport as durable
// change echoes; durability lives in the store, not in the feed.
type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

func NewPublisher(lc fx.Lifecycle, conf *config.Config, router *Router) Publisher {
	if !conf.Kafka.Enabled {
		// Single-process mode: events short-circuit into the local router.
		return &loopbackPublisher{router: router}
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(conf.Kafka.Brokers...),
		Topic:    conf.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return writer.Close()
		},
	})

	return &kafkaPublisher{writer: writer}
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev models.ChangeEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	// Key by scope so one conversation's events stay on one partition and
	// arrive in backend-report order.
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ScopeKey),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write change event: %w", err)
	}
	return nil
}

type loopbackPublisher struct {
	router *Router
}

func (p *loopbackPublisher) Publish(_ context.Context, ev models.ChangeEvent) error {
	p.router.Dispatch(ev)
	return nil
}
