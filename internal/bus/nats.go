// Package bus publishes thumbnail task events on NATS.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	DefaultName           = "url-thumbnailer"
	DefaultHandlerTimeout = 30 * time.Second
)

type Client struct {
	nc             *nats.Conn
	logger         *slog.Logger
	handlerTimeout time.Duration
}

type connectConfig struct {
	name           string
	logger         *slog.Logger
	handlerTimeout time.Duration
}

type Option func(*connectConfig)

// WithName sets the connection name shown in NATS monitoring.
func WithName(name string) Option { return func(c *connectConfig) { c.name = name } }

func WithLogger(l *slog.Logger) Option {
	return func(c *connectConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHandlerTimeout bounds the context handed to SubscribeJSON handlers.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *connectConfig) {
		if d > 0 {
			c.handlerTimeout = d
		}
	}
}

// Connect dials url and keeps reconnecting forever; connection state changes
// are logged.
func Connect(url string, opts ...Option) (*Client, error) {
	cfg := connectConfig{name: DefaultName, logger: slog.Default(), handlerTimeout: DefaultHandlerTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.With("component", "nats")

	nc, err := nats.Connect(url,
		nats.Name(cfg.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("async error", "subject", subject, "err", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return &Client{nc: nc, logger: logger, handlerTimeout: cfg.handlerTimeout}, nil
}

// Close drains pending messages before closing.
func (c *Client) Close() {
	if c.nc == nil {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.logger.Warn("drain failed", "err", err)
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	return c.nc.Publish(subject, b)
}

func (c *Client) SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), c.handlerTimeout)
		defer cancel()
		handler(ctx, msg.Data)
	})
}
