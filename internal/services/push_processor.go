package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/CyberwizD/webpush-service/internal/models"
	"github.com/CyberwizD/webpush-service/internal/repository"
	"github.com/CyberwizD/webpush-service/pkg/metrics"
	"github.com/CyberwizD/webpush-service/pkg/retry"
)

var validate = validator.New()

// SubscriptionRepository reads and maintains the stored subscription of a user.
type SubscriptionRepository interface {
	// LoadSubscription returns nil, nil when the user has no subscription.
	LoadSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, userID string, sub models.Subscription) error
	// InvalidateSubscription clears the user's subscription if it still points at endpoint.
	InvalidateSubscription(ctx context.Context, userID, endpoint string) error
}

// DeliveryCache remembers gone endpoints and processed requests.
type DeliveryCache interface {
	IsEndpointSuppressed(ctx context.Context, endpoint string) (bool, error)
	SuppressEndpoint(ctx context.Context, endpoint string) error
	IsProcessed(ctx context.Context, requestID string) (bool, error)
	MarkProcessed(ctx context.Context, requestID string) error
}

// PushProcessor turns queue envelopes into lifecycle changes and deliveries.
type PushProcessor struct {
	provider      PushProvider
	dispatcher    *BulkDispatcher
	lifecycle     *LifecycleManager
	subscriptions SubscriptionRepository
	cache         DeliveryCache
	metrics       *metrics.Metrics
	logger        *slog.Logger
	retryCfg      retry.Config
}

// NewPushProcessor wires the processor. cache may be nil.
func NewPushProcessor(
	provider PushProvider,
	dispatcher *BulkDispatcher,
	lifecycle *LifecycleManager,
	subscriptions SubscriptionRepository,
	cache DeliveryCache,
	metrics *metrics.Metrics,
	logger *slog.Logger,
	retryCfg retry.Config,
) *PushProcessor {
	return &PushProcessor{
		provider:      provider,
		dispatcher:    dispatcher,
		lifecycle:     lifecycle,
		subscriptions: subscriptions,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		retryCfg:      retryCfg,
	}
}

func (p *PushProcessor) Process(ctx context.Context, envelope *models.MessageEnvelope) error {
	if envelope.Channel != models.ChannelPush {
		return invalidEnvelope("unexpected channel %q", envelope.Channel)
	}
	p.metrics.IncConsumed()

	if p.alreadyProcessed(ctx, envelope.RequestID) {
		p.logger.Info("skipping duplicate request", slog.String("request_id", envelope.RequestID))
		return nil
	}

	var err error
	switch action := envelope.ResolvedAction(); action {
	case models.ActionSend:
		err = p.send(ctx, envelope)
	case models.ActionRead:
		err = p.markRead(ctx, envelope)
	case models.ActionReadAll:
		err = p.markAllRead(ctx, envelope)
	case models.ActionDelete:
		err = p.delete(ctx, envelope)
	case models.ActionSubscribe:
		err = p.subscribe(ctx, envelope)
	default:
		err = invalidEnvelope("unknown action %q", action)
	}
	if err != nil {
		return err
	}

	if p.cache != nil && envelope.RequestID != "" {
		if err := p.cache.MarkProcessed(ctx, envelope.RequestID); err != nil {
			p.logger.Warn("failed to mark request processed", slog.String("request_id", envelope.RequestID), slog.Any("error", err))
		}
	}
	return nil
}

func (p *PushProcessor) alreadyProcessed(ctx context.Context, requestID string) bool {
	if p.cache == nil || requestID == "" {
		return false
	}
	seen, err := p.cache.IsProcessed(ctx, requestID)
	if err != nil {
		p.logger.Warn("idempotency lookup failed", slog.String("request_id", requestID), slog.Any("error", err))
		return false
	}
	return seen
}

func (p *PushProcessor) send(ctx context.Context, envelope *models.MessageEnvelope) error {
	title := RenderTemplate(envelope.Notification.Title, envelope.Variables)
	body := RenderTemplate(envelope.Notification.Body, envelope.Variables)
	if strings.TrimSpace(title) == "" || strings.TrimSpace(body) == "" {
		return invalidEnvelope("title and body are required")
	}

	if envelope.IsBroadcast() {
		return p.broadcast(ctx, envelope, title, body)
	}
	if envelope.UserID == "" {
		return invalidEnvelope("user_id is required")
	}
	return p.sendToUser(ctx, envelope, title, body)
}

func (p *PushProcessor) sendToUser(ctx context.Context, envelope *models.MessageEnvelope, title, body string) error {
	content := envelope.Notification
	n, err := p.lifecycle.Create(ctx, models.NotificationDraft{
		ID:       envelope.RequestID,
		UserID:   envelope.UserID,
		Title:    title,
		Body:     body,
		Icon:     content.Icon,
		Badge:    content.Badge,
		URL:      content.URL,
		Type:     content.Type,
		Priority: content.Priority,
		Data:     content.Data,
	})
	if err != nil {
		return err
	}
	if !envelope.ShouldSendPush() {
		return nil
	}

	sub, err := p.activeSubscription(ctx, envelope.UserID)
	if err != nil {
		return err
	}
	if sub == nil {
		p.logger.Info("no active push subscription",
			slog.String("request_id", envelope.RequestID),
			slog.String("user_id", envelope.UserID))
		return nil
	}

	data := map[string]any{"notificationId": n.ID}
	maps.Copy(data, n.Data)
	opts := OptionsFromContent(content)
	opts.Icon, opts.Badge, opts.URL, opts.Data = n.Icon, n.Badge, n.URL, data

	outcome, err := p.deliverWithRetry(ctx, sub, BuildPayload(n.Title, n.Body, opts), envelope.RequestID)
	if err != nil {
		return err
	}
	p.countOutcome(outcome)

	// The push already went out; a failed status write must not trigger a redelivery.
	if err := p.lifecycle.RecordOutcome(ctx, n, outcome); err != nil {
		p.logger.Error("failed to record delivery outcome",
			slog.String("notification_id", n.ID),
			slog.Any("error", err))
	}
	if outcome.IsGone() {
		p.invalidate(ctx, envelope.UserID, sub.Endpoint)
	}
	return nil
}

// deliverWithRetry retries transient failures according to retryCfg. Each
// try is a single provider call.
func (p *PushProcessor) deliverWithRetry(ctx context.Context, sub *models.Subscription, payload *models.Payload, requestID string) (models.DeliveryOutcome, error) {
	var (
		outcome    models.DeliveryOutcome
		deliverErr error
	)
	cfg := p.retryCfg
	cfg.OnRetry = func(attempt int, err error) {
		p.metrics.IncRetried()
		p.logger.Info("retrying push delivery",
			slog.String("request_id", requestID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}

	_ = retry.Do(ctx, cfg, func() error {
		outcome, deliverErr = p.provider.Deliver(ctx, sub, payload)
		if deliverErr != nil {
			return retry.Permanent(deliverErr)
		}
		if outcome.Kind != models.OutcomeTransientFailure || outcome.Reason == models.ReasonCancelled {
			return nil
		}
		return errors.New(outcome.Reason)
	})
	if deliverErr != nil {
		return models.DeliveryOutcome{}, deliverErr
	}
	if outcome.Kind == 0 {
		return models.Cancelled(), nil
	}
	return outcome, nil
}

func (p *PushProcessor) broadcast(ctx context.Context, envelope *models.MessageEnvelope, title, body string) error {
	var (
		subs    []*models.Subscription
		owners  []string
		skipped int
	)
	seen := make(map[string]struct{}, len(envelope.UserIDs))
	for _, userID := range envelope.UserIDs {
		if _, dup := seen[userID]; dup || userID == "" {
			continue
		}
		seen[userID] = struct{}{}

		sub, err := p.activeSubscription(ctx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			skipped++
			continue
		}
		subs = append(subs, sub)
		owners = append(owners, userID)
	}

	payload := BuildPayload(title, body, OptionsFromContent(envelope.Notification))
	report, err := p.dispatcher.DeliverBulk(ctx, subs, payload)
	if err != nil {
		return err
	}

	gone := 0
	for i, outcome := range report.PerRecipient {
		p.countOutcome(outcome)
		if outcome.IsGone() {
			gone++
			p.invalidate(ctx, owners[i], subs[i].Endpoint)
		}
	}
	p.metrics.ObserveBulk(report.Total)

	p.logger.Info("broadcast finished",
		slog.String("request_id", envelope.RequestID),
		slog.Int("total", report.Total),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("gone", gone),
		slog.Int("skipped", skipped))
	return nil
}

func (p *PushProcessor) activeSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := p.subscriptions.LoadSubscription(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subscription for %s: %w", userID, err)
	}
	if sub == nil || sub.Endpoint == "" {
		return nil, nil
	}
	if p.cache != nil {
		suppressed, err := p.cache.IsEndpointSuppressed(ctx, sub.Endpoint)
		if err != nil {
			p.logger.Warn("suppression lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		} else if suppressed {
			return nil, nil
		}
	}
	return sub, nil
}

// invalidate reacts to a gone subscription. Failures are logged only; the
// outcome has already been reported.
func (p *PushProcessor) invalidate(ctx context.Context, userID, endpoint string) {
	if err := p.subscriptions.InvalidateSubscription(ctx, userID, endpoint); err != nil {
		p.logger.Error("failed to invalidate subscription", slog.String("user_id", userID), slog.Any("error", err))
	}
	if p.cache != nil {
		if err := p.cache.SuppressEndpoint(ctx, endpoint); err != nil {
			p.logger.Warn("failed to suppress endpoint", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
}

func (p *PushProcessor) countOutcome(outcome models.DeliveryOutcome) {
	switch outcome.Kind {
	case models.OutcomeDelivered:
		p.metrics.IncDelivered()
	case models.OutcomeSubscriptionGone:
		p.metrics.IncGone()
	default:
		p.metrics.IncFailed()
	}
}

func (p *PushProcessor) markRead(ctx context.Context, envelope *models.MessageEnvelope) error {
	if envelope.NotificationID == "" {
		return invalidEnvelope("notification_id is required")
	}
	_, err := p.lifecycle.MarkRead(ctx, envelope.NotificationID)
	return p.ignoreMissing(err, envelope)
}

func (p *PushProcessor) markAllRead(ctx context.Context, envelope *models.MessageEnvelope) error {
	if envelope.UserID == "" {
		return invalidEnvelope("user_id is required")
	}
	count, err := p.lifecycle.MarkAllRead(ctx, envelope.UserID)
	if err != nil {
		return err
	}
	p.logger.Info("notifications marked read", slog.String("user_id", envelope.UserID), slog.Int64("count", count))
	return nil
}

func (p *PushProcessor) delete(ctx context.Context, envelope *models.MessageEnvelope) error {
	if envelope.NotificationID == "" {
		return invalidEnvelope("notification_id is required")
	}
	return p.ignoreMissing(p.lifecycle.Delete(ctx, envelope.NotificationID), envelope)
}

func (p *PushProcessor) subscribe(ctx context.Context, envelope *models.MessageEnvelope) error {
	if envelope.UserID == "" || envelope.Subscription == nil {
		return invalidEnvelope("user_id and subscription are required")
	}
	if err := validate.Struct(envelope.Subscription); err != nil {
		return invalidEnvelope("subscription: %v", err)
	}
	if err := p.subscriptions.SaveSubscription(ctx, envelope.UserID, *envelope.Subscription); err != nil {
		return fmt.Errorf("save subscription for %s: %w", envelope.UserID, err)
	}
	return nil
}

func (p *PushProcessor) ignoreMissing(err error, envelope *models.MessageEnvelope) error {
	if errors.Is(err, repository.ErrNotFound) {
		p.logger.Warn("notification not found",
			slog.String("request_id", envelope.RequestID),
			slog.String("notification_id", envelope.NotificationID))
		return nil
	}
	return err
}
