// Package notifications records durable side-channel events for tasks.
//
// Delivery is fire-and-forget from the orchestrator's point of view: a
// failed write is logged and, where possible, recorded as a secondary
// error notification, but it never fails the task operation that raised
// the event.
package notifications

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/stackdesk/stackdesk/internal/db/models"
	"github.com/stackdesk/stackdesk/internal/repository"
)

// Service writes and serves task notifications.
type Service struct {
	repo repository.NotificationRepository
}

// NewService creates a notification service backed by the given repository.
func NewService(repo repository.NotificationRepository) *Service {
	return &Service{repo: repo}
}

// Info records an informational lifecycle event for a task.
func (s *Service) Info(ctx context.Context, taskID, notes string) {
	s.record(ctx, taskID, "", notes, false)
}

// Error records an error event attributed to the named action.
func (s *Service) Error(ctx context.Context, taskID, actionName, notes string) {
	s.record(ctx, taskID, actionName, notes, true)
}

func (s *Service) record(ctx context.Context, taskID, actionName, notes string, isError bool) {
	n := &models.Notification{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		ActionName: actionName,
		Notes:      notes,
		Error:      isError,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		log.Printf("notification write failed for task %s: %v", taskID, err)
		if !isError {
			// Leave a triage trail for the lost event.
			s.record(ctx, taskID, actionName, fmt.Sprintf("notification delivery failed: %v", err), true)
		}
	}
}

// Get returns one notification by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns notifications newest first. Acknowledged entries are
// hidden unless includeAcknowledged is set.
func (s *Service) List(ctx context.Context, includeAcknowledged bool, limit, offset int) ([]models.Notification, error) {
	return s.repo.List(ctx, includeAcknowledged, limit, offset)
}

// ListForTask returns every notification attached to a task.
func (s *Service) ListForTask(ctx context.Context, taskID string) ([]models.Notification, error) {
	return s.repo.ListForTask(ctx, taskID)
}

// Acknowledge marks a notification as handled.
func (s *Service) Acknowledge(ctx context.Context, id string) error {
	return s.repo.Acknowledge(ctx, id)
}
