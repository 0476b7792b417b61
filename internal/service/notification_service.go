package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/pkg/jobs"
)

type notificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
}

// NotificationService persists fan-out records through a background queue.
// Delivery is fire-and-forget: enqueue failures are logged and never
// propagate to the operation that produced the event.
type NotificationService struct {
	repo   notificationRepository
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService constructs the service and its worker queue. Call
// Start before use and Stop on shutdown.
func NewNotificationService(repo notificationRepository, logger *zap.Logger, cfg jobs.QueueConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{repo: repo, logger: logger}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("notifications", s.handle, cfg)
	return s
}

// Start launches the queue workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify enqueues one notification. The payload is marshalled to JSON.
func (s *NotificationService) Notify(notificationType, recipientID string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal notification payload",
			zap.String("type", notificationType), zap.Error(err))
		return
	}

	notification := models.Notification{
		ID:          uuid.NewString(),
		Type:        notificationType,
		RecipientID: recipientID,
		Payload:     body,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.queue.Enqueue(jobs.Job{ID: notification.ID, Type: notificationType, Payload: notification}); err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("type", notificationType),
			zap.String("recipient_id", recipientID),
			zap.Error(err))
	}
}

// List returns the most recent notifications for a recipient.
func (s *NotificationService) List(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListByRecipient(ctx, recipientID, limit)
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	notification, ok := job.Payload.(models.Notification)
	if !ok {
		s.logger.Warn("dropping notification job with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.repo.Create(ctx, &notification)
}
