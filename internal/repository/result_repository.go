package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"ozzus/sensu-agent/internal/domain"
)

type ResultRepository interface {
	SendResult(ctx context.Context, result domain.ResultPayload) error
	SendKeepalive(ctx context.Context, ch Channel, keepalive map[string]interface{}) error
}

type BusResultRepository struct {
	log       *slog.Logger
	transport Transport
}

func NewBusResultRepository(log *slog.Logger, transport Transport) *BusResultRepository {
	if log == nil {
		log = slog.Default()
	}
	return &BusResultRepository{
		log:       log.With(slog.String("component", "publisher")),
		transport: transport,
	}
}

func (r *BusResultRepository) SendResult(ctx context.Context, result domain.ResultPayload) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := r.transport.Publish(ctx, domain.QueueResults, payload); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	name, _ := result.Check.Name()
	r.log.Debug("sent result",
		slog.String("check", name),
		slog.Any("status", result.Check[domain.FieldStatus]),
		slog.String("queue", domain.QueueResults))
	return nil
}

// SendKeepalive publishes on the caller's channel so that a failure tells the
// keepalive loop to rebuild it.
func (r *BusResultRepository) SendKeepalive(ctx context.Context, ch Channel, keepalive map[string]interface{}) error {
	payload, err := json.Marshal(keepalive)
	if err != nil {
		return fmt.Errorf("failed to marshal keepalive: %w", err)
	}

	if err := ch.Publish(ctx, domain.QueueKeepalives, payload); err != nil {
		return fmt.Errorf("failed to publish keepalive: %w", err)
	}

	r.log.Debug("sent keepalive", slog.String("queue", domain.QueueKeepalives))
	return nil
}
