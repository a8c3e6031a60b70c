package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/CyberwizD/webpush-service/internal/models"
)

// NotificationStore is the persistence collaborator of the lifecycle manager.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	PersistStatus(ctx context.Context, id string, status models.DeliveryStatus) error
	MarkRead(ctx context.Context, id string, at time.Time) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	Delete(ctx context.Context, id string) error
}

// LifecycleManager owns the state transitions of notification records.
//
// A record starts unsent and unread. Only a Delivered outcome moves it to
// sent; reading is a separate user action. Records are never rolled back
// because delivery failed.
type LifecycleManager struct {
	store  NotificationStore
	logger *slog.Logger
	now    func() time.Time
}

func NewLifecycleManager(store NotificationStore, logger *slog.Logger) *LifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleManager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Create persists a new notification in the Created state.
func (m *LifecycleManager) Create(ctx context.Context, draft models.NotificationDraft) (*models.Notification, error) {
	id := draft.ID
	if id == "" {
		id = uuid.NewString()
	}
	n := &models.Notification{
		ID:        id,
		UserID:    draft.UserID,
		Title:     draft.Title,
		Body:      draft.Body,
		Icon:      orDefault(draft.Icon, models.DefaultIcon),
		Badge:     orDefault(draft.Badge, models.DefaultBadge),
		URL:       orDefault(draft.URL, models.DefaultURL),
		Type:      models.TypeInfo,
		Priority:  models.PriorityNormal,
		Data:      map[string]interface{}{},
		CreatedAt: m.now().UTC(),
	}
	if draft.Type.Valid() {
		n.Type = draft.Type
	}
	if draft.Priority.Valid() {
		n.Priority = draft.Priority
	}
	if len(draft.Data) > 0 {
		n.Data = maps.Clone(draft.Data)
	}
	n.UpdatedAt = n.CreatedAt

	if err := m.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// RecordOutcome applies a delivery outcome to the notification. Only
// Delivered changes anything; the record is updated in place on success.
func (m *LifecycleManager) RecordOutcome(ctx context.Context, n *models.Notification, outcome models.DeliveryOutcome) error {
	if n == nil {
		return fmt.Errorf("%w: nil notification", ErrInvariantViolation)
	}
	if !outcome.IsDelivered() {
		m.logger.Debug("notification left unsent",
			slog.String("notification_id", n.ID),
			slog.String("outcome", outcome.Kind.String()),
			slog.String("reason", outcome.Reason))
		return nil
	}
	if n.Sent {
		return nil
	}

	sentAt := m.now().UTC()
	if sentAt.Before(n.CreatedAt) {
		sentAt = n.CreatedAt
	}
	if err := m.store.PersistStatus(ctx, n.ID, models.DeliveryStatus{Sent: true, SentAt: &sentAt}); err != nil {
		return fmt.Errorf("persist delivery status: %w", err)
	}
	n.Sent = true
	n.SentAt = &sentAt
	return nil
}

// MarkRead records that the recipient acknowledged the notification.
func (m *LifecycleManager) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	n, err := m.store.MarkRead(ctx, id, m.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return n, nil
}

// MarkAllRead marks every unread notification of a user as read and returns
// how many changed.
func (m *LifecycleManager) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	count, err := m.store.MarkAllRead(ctx, userID, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark notifications of %s read: %w", userID, err)
	}
	return count, nil
}

// Delete removes a notification regardless of its delivery or read state.
func (m *LifecycleManager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	return nil
}
