package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carousell/ct-go/pkg/logger"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/teamhubhq/chat-core/internal/config"
	"github.com/teamhubhq/chat-core/internal/models"
	"github.com/teamhubhq/chat-core/pkg/util"
	"go.uber.org/fx"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Consumer pumps the backend change topic into the Router. Delivery is
// at-least-once: a commit failure or a reconnect can replay events, and
// subscribers are required to merge idempotently.
type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type kafkaConsumer struct {
	reader     *kafka.Reader
	router     *Router
	metrics    *prometheus.HistogramVec
	maxBackoff time.Duration
	done       chan struct{}
	workers    *workerpool.WorkerPool
}

func NewConsumer(conf *config.Config, router *Router) (Consumer, error) {
	if !conf.Kafka.Enabled {
		return &noopConsumer{}, nil
	}

	metrics, err := util.GetHistogramVec("feed_events_consumed", "status", "topic", "group")
	if err != nil {
		return nil, fmt.Errorf("get histogram vec: %w", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     conf.Kafka.Brokers,
		Topic:       conf.Kafka.Topic,
		GroupID:     conf.Kafka.GroupID,
		StartOffset: kafka.LastOffset,
	})

	return &kafkaConsumer{
		reader:     reader,
		router:     router,
		metrics:    metrics,
		maxBackoff: conf.Feed.MaxBackoff,
		done:       make(chan struct{}),
		workers:    workerpool.New(4),
	}, nil
}

// StartConsumer wires the consumer into the fx lifecycle.
func StartConsumer(
	sd fx.Shutdowner,
	lc fx.Lifecycle,
	consumer Consumer,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := consumer.Start(context.Background()); err != nil {
					log.Errorw(ctx, "feed consumer stopped", "error", err)
					sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return consumer.Stop(ctx)
		},
	})
}

func (c *kafkaConsumer) Start(ctx context.Context) error {
	log.Infof(ctx, "starting feed consumer for topic: %s", c.reader.Config().Topic)

	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = c.maxBackoff
	retry.MaxElapsedTime = 0 // retry forever, the feed must outlive outages
	gapped := false

	for ctx.Err() == nil {
		select {
		case <-c.done:
			return nil
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			wait := retry.NextBackOff()
			log.Warnw(ctx, "feed fetch failed, backing off",
				"error", err, "backoff", wait.String())
			gapped = true
			select {
			case <-time.After(wait):
			case <-c.done:
				return nil
			}
			continue
		}

		retry.Reset()
		if gapped {
			// Events published during the outage were consumed by the group
			// elsewhere or skipped; tell subscribers to catch up.
			gapped = false
			c.router.NotifyGap()
		}

		c.workers.Submit(func() {
			c.processMessage(ctx, msg)
		})

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Errorw(ctx, "failed to commit feed message", "error", err)
		}
	}
	return nil
}

func (c *kafkaConsumer) Stop(ctx context.Context) error {
	log.Infof(ctx, "stopping feed consumer")
	close(c.done)
	c.workers.StopWait()
	return c.reader.Close()
}

func (c *kafkaConsumer) processMessage(ctx context.Context, msg kafka.Message) {
	start := time.Now()
	err := c.handle(ctx, msg)

	code := getCode(err)
	content := "feed event dispatched"
	if err != nil {
		content = err.Error()
	}

	log.Logw(ctx, getLogLevel(code), content,
		"code", code,
		"duration_ms", time.Since(start).Milliseconds(),
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
	)

	c.metrics.
		WithLabelValues(code.String(), msg.Topic, c.reader.Config().GroupID).
		Observe(time.Since(start).Seconds())
}

func (c *kafkaConsumer) handle(ctx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PANIC RECOVER: %+v", r)
		}
	}()

	var ev models.ChangeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("unmarshal change event: %w", err)
	}
	if ev.ScopeKey == "" || ev.Type == "" {
		return fmt.Errorf("malformed change event: %w", models.ErrInvalidArgument)
	}

	c.router.Dispatch(ev)
	return nil
}

func getCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	st, ok := status.FromError(err)
	if !ok {
		return status.Code(errors.Unwrap(err))
	}
	return st.Code()
}

func getLogLevel(code codes.Code) logger.Level {
	switch code {
	case codes.OK:
		return logger.DebugLevel
	case codes.Canceled,
		codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.ResourceExhausted,
		codes.FailedPrecondition,
		codes.Aborted,
		codes.OutOfRange:
		return logger.WarnLevel
	default:
		return logger.ErrorLevel
	}
}

// noopConsumer is used when Kafka is disabled; the relay ingest endpoint
// then becomes the only event source.
type noopConsumer struct{}

func (n *noopConsumer) Start(ctx context.Context) error {
	log.Infof(ctx, "feed consumer is disabled")
	return nil
}

func (n *noopConsumer) Stop(ctx context.Context) error {
	return nil
}
