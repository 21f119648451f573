package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/pkg/auth"
)

// publisher is the subset of *nats.Conn the publisher needs
type publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// SealedEnvelope wraps an encrypted event. The event ID is bound to the
// ciphertext as associated data.
type SealedEnvelope struct {
	ID     uuid.UUID `json:"id"`
	Type   string    `json:"type"`
	Sealed string    `json:"sealed"`
}

// NATSPublisher streams events to "<subject>.<event type>"
type NATSPublisher struct {
	conn    publisher
	nc      *nats.Conn
	subject string
	sealer  *auth.Sealer
}

// NewNATSPublisher connects to NATS. A nil sealer publishes plain JSON.
func NewNATSPublisher(url, subject string, sealer *auth.Sealer, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("sentinel"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Info("nats publisher connected",
		slog.String("url", nc.ConnectedUrl()),
		slog.String("subject", subject),
		slog.Bool("sealed", sealer != nil),
	)

	p := newNATSPublisher(nc, subject, sealer)
	p.nc = nc
	return p, nil
}

func newNATSPublisher(conn publisher, subject string, sealer *auth.Sealer) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject, sealer: sealer}
}

func (p *NATSPublisher) Name() string { return "nats" }

// Write publishes the batch and waits for the server to acknowledge it
func (p *NATSPublisher) Write(ctx context.Context, events []models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		data, err := p.encode(ev)
		if err != nil {
			return err
		}
		if err := p.conn.Publish(p.subject+"."+ev.Type, data); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", ev.ID, err)
		}
	}

	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush nats publisher: %w", err)
	}
	return nil
}

func (p *NATSPublisher) encode(ev models.SecurityEvent) ([]byte, error) {
	if p.sealer == nil {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
		}
		return data, nil
	}

	sealed, err := p.sealer.SealJSON(ev, ev.ID[:])
	if err != nil {
		return nil, fmt.Errorf("failed to seal event %s: %w", ev.ID, err)
	}
	data, err := json.Marshal(SealedEnvelope{ID: ev.ID, Type: ev.Type, Sealed: sealed})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope for event %s: %w", ev.ID, err)
	}
	return data, nil
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

// OpenEnvelope decrypts a sealed message published by NATSPublisher
func OpenEnvelope(sealer *auth.Sealer, data []byte) (models.SecurityEvent, error) {
	var env SealedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return models.SecurityEvent{}, fmt.Errorf("failed to decode envelope: %w", err)
	}

	var ev models.SecurityEvent
	if err := sealer.OpenJSON(env.Sealed, env.ID[:], &ev); err != nil {
		return models.SecurityEvent{}, err
	}
	return ev, nil
}
