package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"ozzus/sensu-agent/internal/domain"
	"ozzus/sensu-agent/internal/repository"
)

const defaultDequeueTimeout = time.Second

type SubscriptionProvider interface {
	Subscriptions() []string
}

type CheckRunner interface {
	ProcessCheck(ctx context.Context, check domain.Check)
}

// SubscriptionsReceiver consumes check requests for the client's
// subscriptions and hands them to the processor.
type SubscriptionsReceiver struct {
	log       *slog.Logger
	transport repository.Transport
	subs      SubscriptionProvider
	runner    CheckRunner
	cfg       LoopConfig

	received  atomic.Uint64
	malformed atomic.Uint64
	healthy   atomic.Bool
}

// NewSubscriptionsReceiver builds a receiver. cfg.Interval is the dequeue
// timeout used while the channel is healthy.
func NewSubscriptionsReceiver(log *slog.Logger, transport repository.Transport, subs SubscriptionProvider, runner CheckRunner, cfg LoopConfig) *SubscriptionsReceiver {
	if log == nil {
		log = slog.Default()
	}
	return &SubscriptionsReceiver{
		log:       log.With(slog.String("component", "subscriptions")),
		transport: transport,
		subs:      subs,
		runner:    runner,
		cfg:       cfg.withDefaults(defaultDequeueTimeout),
	}
}

func (r *SubscriptionsReceiver) Run(ctx context.Context) error {
	var ch repository.Channel
	var requests repository.RequestRepository
	defer func() { closeChannel(r.log, ch) }()

	r.log.Info("subscriptions receiver started")
	for {
		if ctx.Err() != nil {
			r.log.Info("subscriptions receiver stopped")
			return nil
		}

		if ch == nil || ch.IsClosed() {
			closeChannel(r.log, ch)
			r.healthy.Store(false)

			var err error
			ch, requests, err = r.connect(ctx)
			if err != nil {
				r.log.Error("failed to subscribe", slog.String("error", err.Error()))
				if !sleep(ctx, r.cfg.Retry) {
					return nil
				}
				continue
			}
			r.healthy.Store(true)
		}

		check, err := requests.FetchRequest(ctx)
		switch {
		case err == nil:
			r.received.Add(1)
			name, _ := check.Name()
			r.log.Debug("received check request", slog.String("check", name))
			r.runner.ProcessCheck(ctx, check)
		case errors.Is(err, repository.ErrNoRequest):
		case errors.Is(err, repository.ErrMalformedPayload):
			r.malformed.Add(1)
			r.log.Error("dropping check request", slog.String("error", err.Error()))
		case ctx.Err() != nil:
		default:
			r.log.Warn("subscription channel lost", slog.String("error", err.Error()))
			closeChannel(r.log, ch)
			ch, requests = nil, nil
			r.healthy.Store(false)
			if !sleep(ctx, r.cfg.Retry) {
				r.log.Info("subscriptions receiver stopped")
				return nil
			}
		}
	}
}

func (r *SubscriptionsReceiver) connect(ctx context.Context) (repository.Channel, repository.RequestRepository, error) {
	ch, err := r.transport.Open(ctx)
	if err != nil {
		return nil, nil, err
	}

	subscriptions := r.subs.Subscriptions()
	deliveries, err := ch.Subscribe(ctx, subscriptions)
	if err != nil {
		closeChannel(r.log, ch)
		return nil, nil, err
	}

	r.log.Info("subscribed", slog.Any("subscriptions", subscriptions), slog.String("transport", r.transport.Name()))
	return ch, repository.NewDeliveryRequestRepository(deliveries, r.cfg.Interval), nil
}

func (r *SubscriptionsReceiver) Received() uint64 {
	return r.received.Load()
}

func (r *SubscriptionsReceiver) Malformed() uint64 {
	return r.malformed.Load()
}

// Healthy reports whether a subscription channel is currently open.
func (r *SubscriptionsReceiver) Healthy() bool {
	return r.healthy.Load()
}
