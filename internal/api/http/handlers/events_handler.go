package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/assignment-service/internal/events"
	apperrors "github.com/spec-kit/assignment-service/pkg/util/errorutil"
)

// EventsHandler accepts ticket lifecycle events over HTTP, as an alternative to the Redis channel.
type EventsHandler struct {
	dispatcher events.Dispatcher
}

// NewEventsHandler constructs handler.
func NewEventsHandler(dispatcher events.Dispatcher) *EventsHandler {
	return &EventsHandler{dispatcher: dispatcher}
}

// Ingest POST /events/tickets. Handlers run before the response; their failures are logged by
// the dispatcher and do not fail the request. The event is attributed to the authenticated
// caller, whatever the body claims.
func (h *EventsHandler) Ingest(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var env events.Envelope
	if err := c.BodyParser(&env); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	env.Actor = principal.SubjectID
	event, err := env.ToEvent()
	if err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	if err := h.dispatcher.Publish(c.UserContext(), event); err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": fiber.Map{
		"event_id":  event.ID,
		"ticket_id": event.TicketID,
	}})
}
