package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/common/config"
	"github.com/agentforge/runtime/internal/common/logger"
)

// NATSBus implements Bus over NATS core pub/sub, for deployments that
// want lifecycle events to fan out beyond this process.
//
// Adapted from the NATS event bus wiring this package generalizes
// from: board/task domain events become agent-instance lifecycle
// events, and the reconnect-handler/drain-on-close conventions carry
// over unchanged.
type NATSBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

var _ Bus = (*NATSBus)(nil)

// NewNATSBus connects to cfg.URL with automatic reconnection.
func NewNATSBus(cfg config.NATSConfig, log *logger.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to NATS: %w", err)
	}
	log.Info("connected to NATS event bus", zap.String("url", cfg.URL))
	return &NATSBus{conn: conn, logger: log}, nil
}

// Publish implements Bus.
func (b *NATSBus) Publish(ctx context.Context, subject string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("eventbus: publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages before closing the connection.
func (b *NATSBus) Close() error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("eventbus: drain NATS connection: %w", err)
	}
	return nil
}
