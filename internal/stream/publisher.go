package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/slotline/slotline/internal/coordinator"
)

// Config tunes the NATS mirror.
type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the default mirror configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "slotline",
		MaxReconnects: -1, // infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Publisher mirrors every coordination snapshot onto a NATS subject so
// external consumers - dashboards, ops tooling - can observe the system
// without holding a WebSocket open. It implements coordinator.SnapshotSink.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// envelope wraps a snapshot for the wire.
type envelope struct {
	ID        string               `json:"id"`
	Timestamp time.Time            `json:"timestamp"`
	Snapshot  coordinator.Snapshot `json:"snapshot"`
}

// NewPublisher connects to NATS with reconnect handling.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.Subject == "" {
		cfg.Subject = DefaultConfig().Subject
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = DefaultConfig().ReconnectWait
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	log.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("snapshot mirror connected")
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// PublishSnapshot implements coordinator.SnapshotSink. Publish failures are
// logged and dropped; the mirror is best effort and never blocks the
// coordinator.
func (p *Publisher) PublishSnapshot(snap coordinator.Snapshot) {
	data, err := json.Marshal(envelope{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Snapshot:  snap,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot envelope")
		return
	}

	if err := p.nc.Publish(p.subject+".snapshot", data); err != nil {
		log.Error().Err(err).Msg("failed to publish snapshot")
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}
