package rabbitmq_test

import (
	"context"
	"testing"
	"time"

	"ozzus/sensu-agent/internal/repository/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startBroker(t *testing.T) rabbitmq.Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)

	return rabbitmq.Config{
		Host:        host,
		Port:        port.Int(),
		VHost:       "/",
		User:        "guest",
		Password:    "guest",
		QueuePrefix: "test-host-1.0.0",
	}
}

func TestConnectorRoundTrip(t *testing.T) {
	cfg := startBroker(t)
	connector := rabbitmq.NewConnector(nil, cfg)
	t.Cleanup(func() { _ = connector.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ch, err := connector.Open(ctx)
	require.NoError(t, err)
	defer ch.Close()

	deliveries, err := ch.Subscribe(ctx, []string{"linux", "web"})
	require.NoError(t, err)

	// the server side: publish a check request on the fanout exchange
	conn, err := amqp.Dial(amqp.URI{Scheme: "amqp", Host: cfg.Host, Port: cfg.Port, Username: "guest", Password: "guest", Vhost: "/"}.String())
	require.NoError(t, err)
	defer conn.Close()
	server, err := conn.Channel()
	require.NoError(t, err)
	require.NoError(t, server.PublishWithContext(ctx, "web", "", false, false, amqp.Publishing{Body: []byte(`{"name":"disk"}`)}))

	select {
	case d := <-deliveries:
		require.Equal(t, "web", d.Subscription)
		require.JSONEq(t, `{"name":"disk"}`, string(d.Body))
	case <-ctx.Done():
		t.Fatal("no delivery received")
	}

	// results go to a named queue on the default exchange
	_, err = server.QueueDeclare("results", false, false, false, false, nil)
	require.NoError(t, err)
	require.NoError(t, connector.Publish(ctx, "results", []byte(`{"client":"test"}`)))

	require.Eventually(t, func() bool {
		msg, ok, err := server.Get("results", true)
		return err == nil && ok && string(msg.Body) == `{"client":"test"}`
	}, 10*time.Second, 100*time.Millisecond)

	require.False(t, ch.IsClosed())
	require.NoError(t, ch.Close())
	require.True(t, ch.IsClosed())
}

func TestConnectorUnreachable(t *testing.T) {
	t.Parallel()
	connector := rabbitmq.NewConnector(nil, rabbitmq.Config{Host: "127.0.0.1", Port: 1, VHost: "/"})

	_, err := connector.Open(context.Background())
	require.Error(t, err)
	require.Error(t, connector.Publish(context.Background(), "results", []byte("{}")))
	require.NoError(t, connector.Close())
}
