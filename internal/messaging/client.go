package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"scholargate/internal/config"
	"scholargate/internal/errors"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Client wraps a NATS connection and its JetStream context. Every C7
// caller goes through here; IsConnected is checked before every publish
// so a down broker degrades the task queue instead of failing a request.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	config config.NATSConfig
	logger *slog.Logger
}

// NewClient dials NATS and opens a JetStream context. Returns an error;
// callers (the composition root) decide whether an unreachable broker at
// startup is fatal or whether to proceed with the queue disabled.
func NewClient(cfg config.NATSConfig, logger *slog.Logger) (*Client, error) {
	reconnectWait, err := time.ParseDuration(cfg.ReconnectWait)
	if err != nil {
		reconnectWait = 5 * time.Second
	}

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		timeout = 30 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.Timeout(timeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			} else {
				logger.Info("NATS disconnected gracefully")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS.Enabled, cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
	if err != nil {
		return nil, errors.NewInvalidRequestErr("invalid NATS TLS configuration", "tls", err.Error())
	}
	if tlsConfig != nil {
		opts = append(opts, nats.Secure(tlsConfig))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.NewUnavailableErr("nats", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.NewUnavailableErr("nats-jetstream", err)
	}

	client := &Client{
		conn:   conn,
		js:     js,
		config: cfg,
		logger: logger,
	}

	logger.Info("NATS client connected", slog.String("url", cfg.URL))
	return client, nil
}

func (c *Client) IsConnected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

func (c *Client) ConnectedURL() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.ConnectedUrl()
}

func (c *Client) Drain() error {
	if c.conn != nil {
		return c.conn.Drain()
	}
	return nil
}

func (c *Client) Stats() nats.Statistics {
	if c.conn != nil {
		return c.conn.Stats()
	}
	return nats.Statistics{}
}

// Publish sends a best-effort, non-durable core NATS message.
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	if c.conn == nil {
		return errors.NewUnavailableErr("nats", fmt.Errorf("connection not established"))
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.NewOtherErr("failed to serialize message", err)
	}
	return c.conn.Publish(subject, payload)
}

// PublishJetStream publishes a durable, at-least-once-delivered message
// and waits for the broker's stream ack.
func (c *Client) PublishJetStream(ctx context.Context, subject string, data interface{}) error {
	if c.js == nil {
		return errors.NewUnavailableErr("nats-jetstream", fmt.Errorf("jetstream not established"))
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.NewOtherErr("failed to serialize message", err)
	}
	_, err = c.js.Publish(ctx, subject, payload)
	if err != nil {
		return errors.NewUnavailableErr("nats-jetstream", err)
	}
	return nil
}

// Subscribe subscribes to a subject with a raw core-NATS handler.
func (c *Client) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	if c.conn == nil {
		return nil, errors.NewUnavailableErr("nats", fmt.Errorf("connection not established"))
	}
	return c.conn.Subscribe(subject, handler)
}

// SubscribeQueue subscribes to a subject with a queue group, so only one
// worker in the group handles any given message.
func (c *Client) SubscribeQueue(subject, queue string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	if c.conn == nil {
		return nil, errors.NewUnavailableErr("nats", fmt.Errorf("connection not established"))
	}
	return c.conn.QueueSubscribe(subject, queue, handler)
}

// EnsureStream creates or updates the named JetStream stream with the
// given subject filters; workers call this once at startup so the task
// queue works against a fresh broker with no manual provisioning step.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects []string) (jetstream.Stream, error) {
	if c.js == nil {
		return nil, errors.NewUnavailableErr("nats-jetstream", fmt.Errorf("jetstream not established"))
	}
	return c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
}

// JetStream exposes the raw JetStream context for consumer creation.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// GetStreamInfo retrieves information about a JetStream stream.
func (c *Client) GetStreamInfo(ctx context.Context, streamName string) (*jetstream.StreamInfo, error) {
	if c.js == nil {
		return nil, errors.NewUnavailableErr("nats-jetstream", fmt.Errorf("jetstream not established"))
	}

	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info for %s: %w", streamName, err)
	}

	return info, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Close()
		c.logger.Info("NATS connection closed")
	}
	return nil
}
