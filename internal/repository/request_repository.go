package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ozzus/sensu-agent/internal/domain"
)

var (
	ErrNoRequest        = errors.New("no check request")
	ErrMalformedPayload = errors.New("malformed check request")
)

const defaultDequeueTimeout = time.Second

type RequestRepository interface {
	// FetchRequest waits a bounded time for the next check request.
	FetchRequest(ctx context.Context) (domain.Check, error)
}

// DeliveryRequestRepository decodes check requests from a subscription stream.
type DeliveryRequestRepository struct {
	deliveries <-chan Delivery
	timeout    time.Duration
}

func NewDeliveryRequestRepository(deliveries <-chan Delivery, timeout time.Duration) *DeliveryRequestRepository {
	if timeout <= 0 {
		timeout = defaultDequeueTimeout
	}
	return &DeliveryRequestRepository{
		deliveries: deliveries,
		timeout:    timeout,
	}
}

// FetchRequest returns ErrNoRequest when nothing arrived in time,
// ErrChannelClosed when the stream ended, and ErrMalformedPayload when the
// body is not a JSON object.
func (r *DeliveryRequestRepository) FetchRequest(ctx context.Context) (domain.Check, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	select {
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrNoRequest
		}
		return nil, ctx.Err()
	case delivery, ok := <-r.deliveries:
		if !ok {
			return nil, ErrChannelClosed
		}
		check, err := domain.DecodeCheck(delivery.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, delivery.Subscription, err)
		}
		return check, nil
	}
}
