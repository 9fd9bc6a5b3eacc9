package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"ozzus/sensu-agent/internal/repository"
)

// Transport maps queues and subscriptions onto topics of the same name.
type Transport struct {
	log      *slog.Logger
	brokers  []string
	client   string
	producer *Producer
}

func NewTransport(log *slog.Logger, brokers []string, client string) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		log:      log.With(slog.String("component", "kafka")),
		brokers:  brokers,
		client:   client,
		producer: NewProducer(brokers),
	}
}

func (t *Transport) Name() string {
	return "kafka"
}

func (t *Transport) Publish(ctx context.Context, queue string, body []byte) error {
	return t.producer.Publish(ctx, queue, t.client, body)
}

func (t *Transport) Open(ctx context.Context) (repository.Channel, error) {
	if err := CheckConnection(ctx, t.brokers); err != nil {
		return nil, fmt.Errorf("%w: %w", repository.ErrNotConnected, err)
	}
	return &channel{transport: t}, nil
}

func (t *Transport) Close() error {
	return t.producer.Close()
}

type channel struct {
	transport *Transport

	closed atomic.Bool

	mu        sync.Mutex
	consumers []*Consumer
	cancel    context.CancelFunc
}

func (c *channel) Publish(ctx context.Context, queue string, body []byte) error {
	if c.closed.Load() {
		return repository.ErrChannelClosed
	}
	if err := c.transport.Publish(ctx, queue, body); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

// Subscribe starts one reader per subscription topic under a consumer group
// unique to this channel. A read error closes the channel.
func (c *channel) Subscribe(ctx context.Context, subscriptions []string) (<-chan repository.Delivery, error) {
	if c.closed.Load() {
		return nil, repository.ErrChannelClosed
	}

	groupID := fmt.Sprintf("%s-%s", c.transport.client, uuid.NewString())
	readCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	for _, sub := range subscriptions {
		c.consumers = append(c.consumers, NewConsumer(c.transport.brokers, sub, groupID))
	}
	consumers := append([]*Consumer(nil), c.consumers...)
	c.mu.Unlock()

	out := make(chan repository.Delivery)
	var wg conc.WaitGroup
	for _, consumer := range consumers {
		wg.Go(func() {
			for {
				msg, err := consumer.ReadEvent(readCtx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						c.transport.log.Error("failed to read subscription",
							slog.String("topic", consumer.Topic()),
							slog.String("error", err.Error()))
					}
					c.closed.Store(true)
					cancel()
					return
				}
				select {
				case out <- repository.Delivery{Subscription: consumer.Topic(), Body: msg.Value}:
				case <-readCtx.Done():
					return
				}
			}
		})
	}
	// the stream ends only with the channel, even with no topics to read
	go func() {
		wg.Wait()
		<-readCtx.Done()
		close(out)
	}()

	c.transport.log.Info("subscribed", slog.String("group", groupID), slog.Any("topics", subscriptions))
	return out, nil
}

func (c *channel) IsClosed() bool {
	return c.closed.Load()
}

func (c *channel) Close() error {
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	var errs []error
	for _, consumer := range c.consumers {
		if err := consumer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.consumers = nil
	return errors.Join(errs...)
}
