package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"ozzus/sensu-agent/internal/domain"
	"ozzus/sensu-agent/internal/repository"
)

const (
	defaultKeepaliveInterval = 20 * time.Second
	defaultRetryInterval     = 20 * time.Second
)

type KeepaliveSender interface {
	SendKeepalive(ctx context.Context, ch repository.Channel, keepalive map[string]interface{}) error
}

type ClientProvider interface {
	ClientTree() map[string]interface{}
	RedactKeys() []string
}

type LoopConfig struct {
	Interval time.Duration
	Retry    time.Duration
}

func (c LoopConfig) withDefaults(interval time.Duration) LoopConfig {
	if c.Interval <= 0 {
		c.Interval = interval
	}
	if c.Retry <= 0 {
		c.Retry = defaultRetryInterval
	}
	return c
}

// KeepaliveScheduler publishes the redacted client definition on its own
// long-lived channel. A failed publish discards the channel; the next round
// opens a new one.
type KeepaliveScheduler struct {
	log       *slog.Logger
	transport repository.Transport
	sender    KeepaliveSender
	client    ClientProvider
	version   string
	cfg       LoopConfig
	now       func() time.Time

	sent    atomic.Uint64
	healthy atomic.Bool
}

func NewKeepaliveScheduler(log *slog.Logger, transport repository.Transport, sender KeepaliveSender, client ClientProvider, version string, cfg LoopConfig) *KeepaliveScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &KeepaliveScheduler{
		log:       log.With(slog.String("component", "keepalive")),
		transport: transport,
		sender:    sender,
		client:    client,
		version:   version,
		cfg:       cfg.withDefaults(defaultKeepaliveInterval),
		now:       time.Now,
	}
}

func (k *KeepaliveScheduler) Run(ctx context.Context) error {
	var ch repository.Channel
	defer func() { closeChannel(k.log, ch) }()

	k.log.Info("keepalive scheduler started", slog.Duration("interval", k.cfg.Interval))
	for {
		if ch == nil || ch.IsClosed() {
			closeChannel(k.log, ch)
			k.healthy.Store(false)

			var err error
			ch, err = k.transport.Open(ctx)
			if err != nil {
				ch = nil
				k.log.Error("failed to open keepalive channel", slog.String("error", err.Error()))
				if !sleep(ctx, k.cfg.Retry) {
					return nil
				}
				continue
			}
		}

		if err := k.publish(ctx, ch); err != nil {
			k.log.Error("failed to send keepalive", slog.String("error", err.Error()))
			closeChannel(k.log, ch)
			ch = nil
			k.healthy.Store(false)
			if !sleep(ctx, k.cfg.Retry) {
				return nil
			}
			continue
		}

		k.healthy.Store(true)
		if !sleep(ctx, k.cfg.Interval) {
			k.log.Info("keepalive scheduler stopped")
			return nil
		}
	}
}

func (k *KeepaliveScheduler) publish(ctx context.Context, ch repository.Channel) error {
	keepalive := domain.NewKeepalive(k.client.ClientTree(), k.version, k.client.RedactKeys(), k.now())
	if err := k.sender.SendKeepalive(ctx, ch, keepalive); err != nil {
		return err
	}
	k.sent.Add(1)
	return nil
}

func (k *KeepaliveScheduler) Sent() uint64 {
	return k.sent.Load()
}

// Healthy reports whether the last keepalive went out.
func (k *KeepaliveScheduler) Healthy() bool {
	return k.healthy.Load()
}

// sleep waits d or until ctx is done. It reports false when ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func closeChannel(log *slog.Logger, ch repository.Channel) {
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		log.Debug("failed to close channel", slog.String("error", err.Error()))
	}
}
