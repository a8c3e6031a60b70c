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

// PushSubscription is the stored browser subscription of a user. A user has
// at most one live subscription.
type PushSubscription struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Endpoint  string `gorm:"size:1024;not null"`
	P256dh    string `gorm:"size:256;not null"`
	Auth      string `gorm:"size:64;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PushSubscription) TableName() string { return "push_subscriptions" }

// SubscriptionStore keeps one subscription per user.
type SubscriptionStore struct {
	db *gorm.DB
}

func NewSubscriptionStore(db *gorm.DB) (*SubscriptionStore, error) {
	if err := db.AutoMigrate(&PushSubscription{}); err != nil {
		return nil, fmt.Errorf("migrate push_subscriptions: %w", err)
	}
	return &SubscriptionStore{db: db}, nil
}

// LoadSubscription returns nil, nil when the user has no subscription.
func (s *SubscriptionStore) LoadSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var row PushSubscription
	err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.Subscription{
		Endpoint: row.Endpoint,
		Keys: models.Keys{
			Auth:   row.Auth,
			P256dh: row.P256dh,
		},
	}, nil
}

// SaveSubscription replaces the user's subscription.
func (s *SubscriptionStore) SaveSubscription(ctx context.Context, userID string, sub models.Subscription) error {
	row := PushSubscription{
		UserID:   userID,
		Endpoint: sub.Endpoint,
		P256dh:   sub.Keys.P256dh,
		Auth:     sub.Keys.Auth,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"endpoint", "p256dh", "auth", "updated_at"}),
		}).Create(&row).Error
}

// InvalidateSubscription removes the user's subscription if it still points at
// endpoint, so a subscription renewed in the meantime survives.
func (s *SubscriptionStore) InvalidateSubscription(ctx context.Context, userID, endpoint string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&PushSubscription{}).Error
}
