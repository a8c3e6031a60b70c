package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/CyberwizD/webpush-service/internal/models"
)

// NotificationStore persists notification records with gorm.
type NotificationStore struct {
	db *gorm.DB
}

// NewNotificationStore migrates the notifications table and returns the store.
func NewNotificationStore(db *gorm.DB) (*NotificationStore, error) {
	if err := db.AutoMigrate(&models.Notification{}); err != nil {
		return nil, fmt.Errorf("migrate notifications: %w", err)
	}
	return &NotificationStore{db: db}, nil
}

// Create inserts n. Inserting an id that already exists is a no-op so that a
// redelivered message does not duplicate its notification.
func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(n).Error
}

// PersistStatus writes the sent axis. Marking a notification sent twice keeps
// the first sentAt.
func (s *NotificationStore) PersistStatus(ctx context.Context, id string, status models.DeliveryStatus) error {
	q := s.db.WithContext(ctx).Model(&models.Notification{})
	var res *gorm.DB
	if status.Sent {
		sentAt := time.Now().UTC()
		if status.SentAt != nil {
			sentAt = *status.SentAt
		}
		res = q.Where("id = ? AND sent = ?", id, false).
			Updates(map[string]interface{}{"sent": true, "sent_at": sentAt})
	} else {
		res = q.Where("id = ?", id).
			Updates(map[string]interface{}{"sent": false, "sent_at": nil})
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.ensureExists(ctx, id)
	}
	return nil
}

// MarkRead sets the read axis and returns the updated record. An already read
// notification keeps its original readAt.
func (s *NotificationStore) MarkRead(ctx context.Context, id string, at time.Time) (*models.Notification, error) {
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND read = ?", id, false).
		Updates(map[string]interface{}{"read": true, "read_at": at}).Error
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// MarkAllRead marks every unread notification of userID as read.
func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	return res.RowsAffected, res.Error
}

func (s *NotificationStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Notification{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	if err := s.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (s *NotificationStore) ensureExists(ctx context.Context, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
