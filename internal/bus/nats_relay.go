// Package bus provides a progressbus.Relay implementation over NATS so
// ProgressBus events fan out across replicas of the analysis service
// instead of staying confined to one process's in-memory subscriber maps.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/leocder07/stockresearch/internal/progressbus"
)

// Config configures the NATS relay.
type Config struct {
	URL    string
	Prefix string // subject prefix, default "analyses."
}

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() Config {
	return Config{URL: "nats://localhost:4222", Prefix: "analyses."}
}

// NATSRelay publishes ProgressBus events onto NATS subjects namespaced by
// analysis_id, and can subscribe back into a local Bus so other replicas
// observe the same event stream.
type NATSRelay struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSRelay connects to NATS and returns a relay ready to hand to
// progressbus.Bus.SetRelay.
func NewNATSRelay(cfg Config) (*NATSRelay, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "analyses."
	}
	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("stockresearch-progressbus"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSRelay{nc: nc, prefix: cfg.Prefix}, nil
}

// Publish implements progressbus.Relay.
func (r *NATSRelay) Publish(ctx context.Context, event progressbus.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !r.nc.IsConnected() {
		return fmt.Errorf("bus: NATS not connected")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	subject := r.subject(event.AnalysisID)
	if err := r.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeRemote relays NATS-delivered events for analysisID into a local
// Bus, so subscribers on this replica see events published by any replica.
func (r *NATSRelay) SubscribeRemote(analysisID string, local *progressbus.Bus) (func() error, error) {
	sub, err := r.nc.Subscribe(r.subject(analysisID), func(msg *nats.Msg) {
		var event progressbus.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn().Err(err).Msg("bus: dropping malformed relayed event")
			return
		}
		_ = local.Publish(context.Background(), event)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", analysisID, err)
	}
	return sub.Unsubscribe, nil
}

func (r *NATSRelay) subject(analysisID string) string {
	return r.prefix + analysisID
}

// Close drains and closes the underlying NATS connection.
func (r *NATSRelay) Close() error {
	if r.nc == nil {
		return nil
	}
	return r.nc.Drain()
}
