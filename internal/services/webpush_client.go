package services

import (
	"context"
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/CyberwizD/webpush-service/internal/models"
)

const maxErrorBody = 256

// WebPushClient delivers payloads to browser push gateways using VAPID.
// It holds no mutable state after construction and is safe for concurrent use.
type WebPushClient struct {
	vapid      VAPIDConfig
	ttl        int
	urgency    webpush.Urgency
	timeout    time.Duration
	httpClient webpush.HTTPClient
	logger     *slog.Logger
}

// WebPushOption customises a WebPushClient.
type WebPushOption func(*WebPushClient)

// WithTTL sets how long, in seconds, the gateway keeps an undelivered message.
func WithTTL(seconds int) WebPushOption {
	return func(c *WebPushClient) {
		if seconds >= 0 {
			c.ttl = seconds
		}
	}
}

// WithUrgency sets the Urgency header sent to the gateway.
func WithUrgency(urgency string) WebPushOption {
	return func(c *WebPushClient) {
		switch u := webpush.Urgency(strings.ToLower(urgency)); u {
		case webpush.UrgencyVeryLow, webpush.UrgencyLow, webpush.UrgencyNormal, webpush.UrgencyHigh:
			c.urgency = u
		}
	}
}

// WithTimeout bounds a single delivery attempt. Zero disables the bound.
func WithTimeout(timeout time.Duration) WebPushOption {
	return func(c *WebPushClient) {
		c.timeout = timeout
	}
}

// WithHTTPClient replaces the transport used to reach the gateway.
func WithHTTPClient(client webpush.HTTPClient) WebPushOption {
	return func(c *WebPushClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewWebPushClient validates the VAPID material and returns a ready client.
// A *ConfigurationError is returned when the key pair or contact is unusable.
func NewWebPushClient(vapid VAPIDConfig, logger *slog.Logger, opts ...WebPushOption) (*WebPushClient, error) {
	normalized, err := vapid.Validate()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &WebPushClient{
		vapid:      normalized,
		ttl:        24 * 60 * 60,
		urgency:    webpush.UrgencyNormal,
		timeout:    10 * time.Second,
		httpClient: &http.Client{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *WebPushClient) Name() string {
	return "webpush"
}

// PublicKey returns the VAPID application server key clients subscribe with.
func (c *WebPushClient) PublicKey() string {
	return c.vapid.PublicKey
}

// Deliver makes exactly one delivery attempt and classifies the result.
func (c *WebPushClient) Deliver(ctx context.Context, sub *models.Subscription, payload *models.Payload) (models.DeliveryOutcome, error) {
	if sub == nil {
		return models.DeliveryOutcome{}, fmt.Errorf("%w: nil subscription", ErrInvariantViolation)
	}
	if payload == nil {
		return models.DeliveryOutcome{}, fmt.Errorf("%w: nil payload", ErrInvariantViolation)
	}
	if err := ctx.Err(); err != nil {
		return models.Cancelled(), nil
	}

	if err := checkSubscriptionKeys(sub.Keys); err != nil {
		return models.TransientFailure("invalid subscription keys: "+err.Error(), 0), nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.TransientFailure(fmt.Sprintf("encode payload: %v", err), 0), nil
	}

	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := webpush.SendNotificationWithContext(attemptCtx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      c.httpClient,
		Subscriber:      c.vapid.Subject,
		TTL:             c.ttl,
		Urgency:         c.urgency,
		VAPIDPublicKey:  c.vapid.PublicKey,
		VAPIDPrivateKey: c.vapid.PrivateKey,
	})
	if err != nil {
		outcome := classifyTransportError(ctx, attemptCtx, err)
		c.logger.Warn("push delivery failed",
			slog.String("endpoint", redactEndpoint(sub.Endpoint)),
			slog.String("reason", outcome.Reason))
		return outcome, nil
	}
	defer resp.Body.Close()

	outcome := classifyResponse(resp)
	switch outcome.Kind {
	case models.OutcomeDelivered:
		c.logger.Debug("push delivered", slog.String("endpoint", redactEndpoint(sub.Endpoint)), slog.Int("status", resp.StatusCode))
	case models.OutcomeSubscriptionGone:
		c.logger.Info("push subscription gone", slog.String("endpoint", redactEndpoint(sub.Endpoint)))
	default:
		c.logger.Warn("push gateway rejected delivery",
			slog.String("endpoint", redactEndpoint(sub.Endpoint)),
			slog.Int("status", resp.StatusCode),
			slog.String("reason", outcome.Reason))
	}
	return outcome, nil
}

func classifyResponse(resp *http.Response) models.DeliveryOutcome {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.Delivered(resp.StatusCode)
	case resp.StatusCode == http.StatusGone:
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.SubscriptionGone(resp.StatusCode)
	}

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	reason := fmt.Sprintf("push gateway returned status %d", resp.StatusCode)
	if msg := strings.TrimSpace(string(excerpt)); msg != "" {
		reason += ": " + msg
	}
	return models.TransientFailure(reason, resp.StatusCode)
}

func classifyTransportError(parent, attempt context.Context, err error) models.DeliveryOutcome {
	switch {
	case parent.Err() != nil:
		return models.Cancelled()
	case errors.Is(attempt.Err(), context.DeadlineExceeded):
		return models.TransientFailure(models.ReasonTimeout, 0)
	default:
		return models.TransientFailure(err.Error(), 0)
	}
}

// checkSubscriptionKeys rejects client key material the encryption step cannot use.
func checkSubscriptionKeys(keys models.Keys) error {
	pub, err := decodeKey(keys.P256dh)
	if err != nil {
		return fmt.Errorf("p256dh: %w", err)
	}
	if _, err := ecdh.P256().NewPublicKey(pub); err != nil {
		return fmt.Errorf("p256dh: %w", err)
	}
	if _, err := decodeKey(keys.Auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// redactEndpoint truncates an endpoint so channel ids do not end up in logs whole.
func redactEndpoint(endpoint string) string {
	if len(endpoint) <= 48 {
		return endpoint
	}
	return endpoint[:48] + "..."
}
