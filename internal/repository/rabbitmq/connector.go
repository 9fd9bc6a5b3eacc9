package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ozzus/sensu-agent/internal/repository"
)

const (
	dialTimeout = 30 * time.Second
	heartbeat   = 10 * time.Second
)

type Config struct {
	Host           string
	Port           int
	VHost          string
	User           string
	Password       string
	CertChainFile  string
	PrivateKeyFile string

	// QueuePrefix names the private subscription queue, usually <host>-<version>.
	QueuePrefix string
}

func (c Config) tls() bool {
	return c.CertChainFile != "" && c.PrivateKeyFile != ""
}

func (c Config) uri() string {
	scheme := "amqp"
	if c.tls() {
		scheme = "amqps"
	}
	return amqp.URI{
		Scheme:   scheme,
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    c.VHost,
	}.String()
}

// Connector is the AMQP transport. The connection is created lazily and
// recreated on demand; creation is serialized.
type Connector struct {
	log *slog.Logger
	cfg Config

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewConnector(log *slog.Logger, cfg Config) *Connector {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Port <= 0 {
		cfg.Port = 5672
	}
	return &Connector{
		log: log.With(slog.String("component", "rabbitmq")),
		cfg: cfg,
	}
}

func (c *Connector) Name() string {
	return "rabbitmq"
}

func (c *Connector) connection() (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}

	amqpCfg := amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	}
	if c.cfg.tls() {
		cert, err := tls.LoadX509KeyPair(c.cfg.CertChainFile, c.cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		amqpCfg.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			ServerName:   c.cfg.Host,
			MinVersion:   tls.VersionTLS12,
		}
	}

	conn, err := amqp.DialConfig(c.cfg.uri(), amqpCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", repository.ErrNotConnected, err)
	}

	c.log.Info("connected to rabbitmq",
		slog.String("host", c.cfg.Host),
		slog.Int("port", c.cfg.Port),
		slog.String("vhost", c.cfg.VHost))
	c.conn = conn
	return conn, nil
}

// Publish sends body to the default exchange on a channel of its own.
func (c *Connector) Publish(ctx context.Context, queue string, body []byte) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	return publish(ctx, ch, queue, body)
}

func (c *Connector) Open(ctx context.Context) (repository.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &channel{
		log:    c.log,
		ch:     ch,
		prefix: c.cfg.QueuePrefix,
	}, nil
}

func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

func publish(ctx context.Context, ch *amqp.Channel, queue string, body []byte) error {
	err := ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/octet-stream",
		DeliveryMode: amqp.Transient,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}
