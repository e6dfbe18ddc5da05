package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clinicware/syncd/internal/domain"
	"github.com/clinicware/syncd/internal/metrics"
)

const eventsChannel = "sync:events"

// relayEnvelope carries a routed event between instances. Origin lets each
// instance skip its own messages so locally published events are not fanned
// out twice.
type relayEnvelope struct {
	Origin string       `json:"origin"`
	Room   domain.Room  `json:"room"`
	Event  domain.Event `json:"event"`
}

// LocalPublisher fans a relayed event out to this instance's sessions only.
type LocalPublisher interface {
	PublishLocal(room domain.Room, event domain.Event)
}

// Relay mirrors room publishes across instances over Redis pub/sub, so a
// session connected to any instance hears events published on any other.
type Relay struct {
	rdb      *redis.Client
	instance string
}

// NewRelay creates a relay with a unique instance identity.
func NewRelay(client *Client) *Relay {
	return &Relay{
		rdb:      client.Underlying(),
		instance: uuid.NewString(),
	}
}

// Forward publishes a locally routed event to the relay channel.
// Best-effort: a publish failure is logged and counted, never propagated,
// matching the at-most-once push contract.
func (r *Relay) Forward(room domain.Room, event domain.Event) {
	payload, err := json.Marshal(relayEnvelope{
		Origin: r.instance,
		Room:   room,
		Event:  event,
	})
	if err != nil {
		slog.Error("Failed to marshal relay envelope", "error", err)
		return
	}
	if err := r.rdb.Publish(context.Background(), eventsChannel, payload).Err(); err != nil {
		slog.Warn("Failed to publish to relay channel", "error", err)
		metrics.RelayPublishFailures.Inc()
	}
}

// Start listens for events relayed by other instances and fans them out to
// local sessions. Blocks until ctx is cancelled.
func (r *Relay) Start(ctx context.Context, local LocalPublisher) {
	pubsub := r.rdb.Subscribe(ctx, eventsChannel)
	defer func() {
		_ = pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			r.handleMessage(msg.Payload, local)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) handleMessage(payload string, local LocalPublisher) {
	metrics.RelayMessagesReceived.WithLabelValues(eventsChannel).Inc()

	var envelope relayEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		slog.Warn("Discarding undecodable relay message", "error", err)
		return
	}
	if envelope.Origin == r.instance {
		return
	}
	local.PublishLocal(envelope.Room, envelope.Event)
}
