package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"ozzus/sensu-agent/internal/domain"
)

var (
	ErrNotRunning    = errors.New("service is not running")
	ErrNotSubscribed = errors.New("not subscribed to the bus")
)

type AgentConfig interface {
	ClientName() string
	Subscriptions() []string
	SafeMode() bool
	StandaloneChecks() []domain.Check
}

type Config struct {
	Transport string
}

// AgentService runs the keepalive, subscription and standalone loops around
// one check processor.
type AgentService struct {
	log       *slog.Logger
	cfg       AgentConfig
	processor *CheckProcessor
	keepalive *KeepaliveScheduler
	receiver  *SubscriptionsReceiver
	scheduler *StandaloneScheduler
	transport string

	isRunning atomic.Bool
}

func NewAgentService(
	log *slog.Logger,
	cfg AgentConfig,
	processor *CheckProcessor,
	keepalive *KeepaliveScheduler,
	receiver *SubscriptionsReceiver,
	scheduler *StandaloneScheduler,
	config Config,
) *AgentService {
	if log == nil {
		log = slog.Default()
	}
	return &AgentService{
		log:       log.With(slog.String("component", "agent")),
		cfg:       cfg,
		processor: processor,
		keepalive: keepalive,
		receiver:  receiver,
		scheduler: scheduler,
		transport: config.Transport,
	}
}

// Start blocks until ctx is done. Checks already dispatched are allowed to
// finish and publish before it returns.
func (s *AgentService) Start(ctx context.Context) error {
	scheduled := s.scheduler.ScheduleChecks(s.cfg.StandaloneChecks(), s.processor.ProcessCheck)

	s.isRunning.Store(true)
	s.log.Info("agent service started",
		slog.String("client", s.cfg.ClientName()),
		slog.String("transport", s.transport),
		slog.Any("subscriptions", s.cfg.Subscriptions()),
		slog.Int("standalone", scheduled))

	var wg conc.WaitGroup
	wg.Go(func() { s.runLoop(ctx, "keepalive", s.keepalive.Run) })
	wg.Go(func() { s.runLoop(ctx, "subscriptions", s.receiver.Run) })
	wg.Go(func() { s.runLoop(ctx, "scheduler", s.scheduler.Run) })
	wg.Wait()

	s.isRunning.Store(false)
	s.log.Info("waiting for running checks")
	s.processor.Wait()
	s.log.Info("agent service stopped")
	return nil
}

func (s *AgentService) runLoop(ctx context.Context, name string, run func(context.Context) error) {
	if err := run(ctx); err != nil {
		s.log.Error("loop failed", slog.String("loop", name), slog.String("error", err.Error()))
	}
}

func (s *AgentService) HealthCheck(ctx context.Context) error {
	if !s.isRunning.Load() {
		return ErrNotRunning
	}
	return nil
}

// Ready additionally requires a live subscription channel.
func (s *AgentService) Ready(ctx context.Context) error {
	if err := s.HealthCheck(ctx); err != nil {
		return err
	}
	if !s.receiver.Healthy() {
		return ErrNotSubscribed
	}
	return nil
}

func (s *AgentService) GetStatus() domain.AgentStatus {
	return domain.AgentStatus{
		AgentID:       s.cfg.ClientName(),
		IsRunning:     s.isRunning.Load(),
		Transport:     s.transport,
		Subscriptions: s.cfg.Subscriptions(),
		SafeMode:      s.cfg.SafeMode(),
		Standalone:    s.scheduler.Keys(),
		InFlight:      s.processor.InFlight(),
		Stats:         s.processor.Stats(),
	}
}
