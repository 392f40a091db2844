package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope is the wire form of a ticket lifecycle event published by the ticket service.
type Envelope struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrUnsupportedEvent is returned for envelopes this service does not consume.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// ToEvent validates the envelope and converts it into a dispatcher event.
func (e Envelope) ToEvent() (Event, error) {
	if strings.TrimSpace(e.TicketID) == "" {
		return Event{}, errors.New("ticket_id is required")
	}
	event := Event{
		ID:        e.ID,
		Type:      e.Type,
		TicketID:  e.TicketID,
		Actor:     e.Actor,
		Timestamp: e.Timestamp,
	}
	switch e.Type {
	case EventTicketCreated:
	case EventTicketReassigned:
		event.Payload = TicketReassignedPayload{Reason: e.Reason}
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, e.Type)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Actor == "" {
		event.Actor = SystemActor
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event, nil
}

// RedisBridge forwards ticket events from a Redis channel into the dispatcher.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewRedisBridge builds the bridge.
func NewRedisBridge(client *redis.Client, channel string, dispatcher Dispatcher, logger *zap.Logger) *RedisBridge {
	return &RedisBridge{client: client, channel: channel, dispatcher: dispatcher, logger: logger}
}

// Run consumes the channel until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) {
	if b.client == nil {
		return
	}
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	b.logger.Info("listening for ticket events", zap.String("channel", b.channel))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.Handle(ctx, []byte(msg.Payload))
		}
	}
}

// Handle decodes one message and publishes it. Bad messages are logged and dropped.
func (b *RedisBridge) Handle(ctx context.Context, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("dropping undecodable ticket event", zap.Error(err))
		return
	}
	event, err := env.ToEvent()
	if err != nil {
		if errors.Is(err, ErrUnsupportedEvent) {
			b.logger.Debug("ignoring ticket event", zap.String("event_type", string(env.Type)))
			return
		}
		b.logger.Warn("dropping invalid ticket event", zap.String("event_type", string(env.Type)), zap.Error(err))
		return
	}
	_ = b.dispatcher.Publish(ctx, event)
}
