package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ozzus/sensu-agent/internal/repository"
)

type channel struct {
	log    *slog.Logger
	ch     *amqp.Channel
	prefix string
}

func (c *channel) Publish(ctx context.Context, queue string, body []byte) error {
	if c.ch.IsClosed() {
		return repository.ErrChannelClosed
	}
	return publish(ctx, c.ch, queue, body)
}

// Subscribe declares a fanout exchange per subscription and binds one
// private, auto-delete queue to all of them. Messages are auto-acked.
func (c *channel) Subscribe(ctx context.Context, subscriptions []string) (<-chan repository.Delivery, error) {
	name := fmt.Sprintf("%s-%d", c.prefix, time.Now().Unix())
	queue, err := c.ch.QueueDeclare(name, false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
	}

	for _, sub := range subscriptions {
		if err := c.ch.ExchangeDeclare(sub, "fanout", false, false, false, false, nil); err != nil {
			c.log.Error("failed to declare exchange", slog.String("exchange", sub), slog.String("error", err.Error()))
			continue
		}
		if err := c.ch.QueueBind(queue.Name, "", sub, false, nil); err != nil {
			c.log.Error("failed to bind queue", slog.String("queue", queue.Name), slog.String("exchange", sub), slog.String("error", err.Error()))
			continue
		}
		c.log.Info("subscribed", slog.String("queue", queue.Name), slog.String("exchange", sub))
	}

	msgs, err := c.ch.Consume(queue.Name, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", queue.Name, err)
	}

	out := make(chan repository.Delivery)
	go func() {
		defer close(out)
		for msg := range msgs {
			select {
			case out <- repository.Delivery{Subscription: msg.Exchange, Body: msg.Body}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (c *channel) IsClosed() bool {
	return c.ch.IsClosed()
}

func (c *channel) Close() error {
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
