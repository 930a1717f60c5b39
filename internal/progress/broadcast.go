package progress

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"restyle/internal/domain"
	"restyle/internal/infra"
)

// Publisher is the event sink side of the hub.
type Publisher interface {
	Publish(event domain.ProgressEvent)
}

const broadcastChannel = "progress.events"

// envelope tags every relayed event with its origin instance, so a process
// that both publishes and listens can drop its own echoes.
type envelope struct {
	Origin string               `json:"origin"`
	Event  domain.ProgressEvent `json:"event"`
}

// Broadcaster fans events out to the local hub and, when redis is
// configured, to every other process via pub/sub. The worker and the API run
// as separate binaries; without the relay an API-side subscriber would never
// see worker-side events.
type Broadcaster struct {
	hub    *Hub
	client *redis.Client
	origin string
	logger infra.Logger
}

// NewBroadcaster wraps the hub. client may be nil, which degrades to
// process-local delivery.
func NewBroadcaster(hub *Hub, client *redis.Client, logger infra.Logger) *Broadcaster {
	return &Broadcaster{
		hub:    hub,
		client: client,
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Publish delivers locally and relays to the other processes. The relay is
// best-effort like the rest of the push path; the durable store stays the
// source of truth.
func (b *Broadcaster) Publish(event domain.ProgressEvent) {
	b.hub.Publish(event)
	if b.client == nil {
		return
	}
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: event})
	if err != nil {
		return
	}
	if err := b.client.Publish(context.Background(), broadcastChannel, payload).Err(); err != nil {
		b.logger.Warn().Err(err).Msg("progress: relay publish failed")
	}
}

// Listen feeds remote events into the local hub until ctx ends. It returns
// immediately when no redis client is configured.
func (b *Broadcaster) Listen(ctx context.Context) {
	if b.client == nil {
		return
	}
	sub := b.client.Subscribe(ctx, broadcastChannel)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			b.hub.Publish(env.Event)
		}
	}
}

var _ Publisher = (*Hub)(nil)
var _ Publisher = (*Broadcaster)(nil)
