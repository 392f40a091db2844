package worker

import (
	"github.com/spec-kit/assignment-service/internal/service"
)

// StartNotificationWorker registers notification handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// StartAssignmentWorker subscribes the coordinator to ticket lifecycle events.
func StartAssignmentWorker(assignmentService *service.AssignmentService) {
	if assignmentService == nil {
		return
	}
	assignmentService.RegisterHandlers()
}
