package repository

import (
	"context"
	"errors"
)

var (
	ErrNotConnected  = errors.New("transport is not connected")
	ErrChannelClosed = errors.New("channel is closed")
)

// Delivery is one message received on a subscription.
type Delivery struct {
	Subscription string
	Body         []byte
}

// Channel is a long-lived session on the bus. Once IsClosed reports true the
// owner discards it and opens a new one.
type Channel interface {
	Publish(ctx context.Context, queue string, body []byte) error
	// Subscribe binds a private queue to every subscription. The returned
	// stream is closed when the channel dies.
	Subscribe(ctx context.Context, subscriptions []string) (<-chan Delivery, error)
	IsClosed() bool
	Close() error
}

// Transport owns the connection. Publish uses its own short-lived channel.
type Transport interface {
	Name() string
	Publish(ctx context.Context, queue string, body []byte) error
	Open(ctx context.Context) (Channel, error)
	Close() error
}
