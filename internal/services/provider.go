package services

import (
	"context"

	"github.com/CyberwizD/webpush-service/internal/models"
)

// PushProvider performs one delivery attempt against one subscription.
// Delivery failures come back as outcomes; the error is reserved for
// contract violations (ErrInvariantViolation).
type PushProvider interface {
	Name() string
	Deliver(ctx context.Context, sub *models.Subscription, payload *models.Payload) (models.DeliveryOutcome, error)
}
