package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/events"
)

// Notification types handed to the delivery collaborator.
const (
	NotificationTicketUnassigned  = "ticket_unassigned"
	NotificationSLABreachImminent = "sla_breach_imminent"
)

// Notification is the message published for the delivery service.
type Notification struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Type      string    `json:"type"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher hands a serialized notification to a transport.
type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

type redisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher publishes notifications on Redis pub/sub.
func NewRedisPublisher(client *redis.Client) Publisher {
	return &redisPublisher{client: client}
}

func (p *redisPublisher) Publish(ctx context.Context, channel string, message []byte) error {
	return p.client.Publish(ctx, channel, message).Err()
}

// NotificationService turns domain events into fire-and-forget notifications.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  Publisher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service. A nil publisher only logs.
func NewNotificationService(dispatcher events.Dispatcher, publisher Publisher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketUnassigned, n.handleTicketUnassigned)
	n.dispatcher.Subscribe(events.EventSLABreachImminent, n.handleSLABreachImminent)
}

func (n *NotificationService) handleTicketUnassigned(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketUnassigned", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.Notify(ctx, n.cfg.AdminRecipient, NotificationTicketUnassigned, event.TicketID, event.Payload)
	return nil
}

func (n *NotificationService) handleSLABreachImminent(ctx context.Context, event events.Event) error {
	n.logger.Info("SLABreachImminent", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	recipient := n.cfg.AdminRecipient
	if p, ok := event.Payload.(events.SLABreachImminentPayload); ok && p.AgentID != "" {
		recipient = p.AgentID
	}
	n.Notify(ctx, recipient, NotificationSLABreachImminent, event.TicketID, event.Payload)
	return nil
}

// Notify publishes one notification. Delivery failures are logged, never returned.
func (n *NotificationService) Notify(ctx context.Context, recipient, kind, ticketID string, payload any) {
	msg := Notification{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Type:      kind,
		TicketID:  ticketID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if n.publisher == nil {
		n.logger.Debug("notification publisher not configured", zap.String("type", kind), zap.String("recipient", recipient))
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		n.logger.Warn("encode notification", zap.String("type", kind), zap.Error(err))
		return
	}
	if err := n.publisher.Publish(ctx, n.cfg.Channel, body); err != nil {
		n.logger.Warn("publish notification",
			zap.String("type", kind),
			zap.String("recipient", recipient),
			zap.String("ticket_id", ticketID),
			zap.Error(err))
	}
}
