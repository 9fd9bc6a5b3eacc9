package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	apihttp "ozzus/sensu-agent/internal/api/http"
	"ozzus/sensu-agent/internal/api/socket"
	"ozzus/sensu-agent/internal/checks"
	"ozzus/sensu-agent/internal/config"
	"ozzus/sensu-agent/internal/repository"
	"ozzus/sensu-agent/internal/repository/kafka"
	"ozzus/sensu-agent/internal/repository/rabbitmq"
	"ozzus/sensu-agent/internal/service"
)

const shutdownTimeout = 10 * time.Second

func doRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	store, err := config.NewStore(log, env.ConfigFile, env.ConfigDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	settings := store.Settings()

	log.Info("starting application",
		slog.String("env", env.Env),
		slog.String("client", settings.Client.Name),
		slog.String("version", version),
	)

	transport, err := newTransport(log, settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := transport.Close(); err != nil {
			log.Error("failed to close transport", slog.String("error", err.Error()))
		}
	}()

	results := repository.NewBusResultRepository(log, transport)
	processor := service.NewCheckProcessor(log, store, results, newEngine(log), service.NewLockTable(log))

	agentService := service.NewAgentService(log, store, processor,
		service.NewKeepaliveScheduler(log, transport, results, store, version, service.LoopConfig{}),
		service.NewSubscriptionsReceiver(log, transport, store, processor, service.LoopConfig{}),
		service.NewStandaloneScheduler(log, 0),
		service.Config{Transport: transport.Name()},
	)

	socketServer := socket.NewServer(log, settings.Socket.Address(), processor)
	if err := socketServer.Listen(); err != nil {
		return err
	}

	healthController := apihttp.NewHealthController(agentService, settings.Client.Name, version)
	httpServer := &nethttp.Server{
		Addr:              ":" + settings.API.Port,
		Handler:           apihttp.NewRouter(log, healthController),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return agentService.Start(ctx)
	})
	g.Go(func() error {
		return socketServer.Serve(ctx)
	})
	g.Go(func() error {
		return store.Watch(ctx)
	})
	g.Go(func() error {
		log.Info("starting health server", slog.String("port", settings.API.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down agent...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("health server shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})

	log.Info("application started and ready",
		slog.String("health_port", settings.API.Port),
		slog.String("socket", settings.Socket.Address()),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("agent stopped gracefully")
	return nil
}

func newTransport(log *slog.Logger, settings config.Settings) (repository.Transport, error) {
	switch settings.Transport.Name {
	case "", config.TransportRabbitMQ:
		hostname, _ := os.Hostname()
		rmq := settings.RabbitMQ
		return rabbitmq.NewConnector(log, rabbitmq.Config{
			Host:           rmq.Host,
			Port:           rmq.Port,
			VHost:          rmq.VHost,
			User:           rmq.User,
			Password:       rmq.Password,
			CertChainFile:  rmq.SSL.CertChainFile,
			PrivateKeyFile: rmq.SSL.PrivateKeyFile,
			QueuePrefix:    fmt.Sprintf("%s-%s", hostname, version),
		}), nil
	case config.TransportKafka:
		return kafka.NewTransport(log, settings.Kafka.Brokers, settings.Client.Name), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", settings.Transport.Name)
	}
}

func newEngine(log *slog.Logger) *checks.Engine {
	hostname, _ := os.Hostname()
	return checks.NewEngine(log, checks.NewPerfCounterCollector(log, checks.NewHostCounterSource(), hostname))
}
