package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceid/internal/models"
)

type EventHandler func(ctx context.Context, ev *models.AuthEvent) error

// ConsumerOptions configures a durable AUTH consumer.
type ConsumerOptions struct {
	Name string
	// Workers process messages concurrently. Defaults to 1.
	Workers int
	// NewOnly skips events published before the consumer was created.
	NewOnly bool
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeAuthEvents starts fetching events from the AUTH stream and returns
// immediately. Handler errors cause a Nak so the event is redelivered, up to
// five times; malformed payloads are terminated.
func (c *Consumer) ConsumeAuthEvents(ctx context.Context, opts ConsumerOptions, handler EventHandler) error {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	stream, err := c.js.Stream(ctx, AuthStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AuthStreamName, err)
	}

	deliver := jetstream.DeliverAllPolicy
	if opts.NewOnly {
		deliver = jetstream.DeliverNewPolicy
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          opts.Name,
		Durable:       opts.Name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		FilterSubject: AuthSubjectBase + ".>",
		DeliverPolicy: deliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", opts.Name, err)
	}

	msgCh := make(chan jetstream.Msg, opts.Workers*2)

	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(opts.Workers*4, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch auth events", "consumer", opts.Name, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < opts.Workers; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				handle(ctx, workerID, msg, handler)
			}
		}(i)
	}

	slog.Info("auth event consumer started", "consumer", opts.Name, "workers", opts.Workers)
	return nil
}

func handle(ctx context.Context, workerID int, msg jetstream.Msg, handler EventHandler) {
	var ev models.AuthEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		slog.Error("decode auth event", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}
	if err := handler(ctx, &ev); err != nil {
		slog.Error("process auth event", "worker", workerID, "attempt_id", ev.AttemptID, "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (c *Consumer) Ping() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
