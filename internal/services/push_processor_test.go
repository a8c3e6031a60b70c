package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberwizD/webpush-service/internal/models"
	"github.com/CyberwizD/webpush-service/pkg/metrics"
	"github.com/CyberwizD/webpush-service/pkg/retry"
)

type fakeSubscriptions struct {
	mu          sync.Mutex
	subs        map[string]*models.Subscription
	invalidated []string
}

func newFakeSubscriptions() *fakeSubscriptions {
	return &fakeSubscriptions{subs: map[string]*models.Subscription{}}
}

func (f *fakeSubscriptions) LoadSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[userID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeSubscriptions) SaveSubscription(_ context.Context, userID string, sub models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[userID] = &sub
	return nil
}

func (f *fakeSubscriptions) InvalidateSubscription(_ context.Context, userID, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[userID]; ok && sub.Endpoint == endpoint {
		delete(f.subs, userID)
	}
	f.invalidated = append(f.invalidated, userID)
	return nil
}

type fakeCache struct {
	mu         sync.Mutex
	suppressed map[string]bool
	processed  map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{suppressed: map[string]bool{}, processed: map[string]bool{}}
}

func (c *fakeCache) IsEndpointSuppressed(_ context.Context, endpoint string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressed[endpoint], nil
}

func (c *fakeCache) SuppressEndpoint(_ context.Context, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressed[endpoint] = true
	return nil
}

func (c *fakeCache) IsProcessed(_ context.Context, requestID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed[requestID], nil
}

func (c *fakeCache) MarkProcessed(_ context.Context, requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed[requestID] = true
	return nil
}

type processorFixture struct {
	processor *PushProcessor
	store     *memoryStore
	subs      *fakeSubscriptions
	cache     *fakeCache
	calls     atomic.Int32
	mu        sync.Mutex
	payloads  []*models.Payload
}

// newProcessorFixture wires a processor around a provider that answers with
// respond for each call.
func newProcessorFixture(t *testing.T, respond func(call int, sub *models.Subscription) models.DeliveryOutcome) *processorFixture {
	t.Helper()
	f := &processorFixture{
		store: newMemoryStore(),
		subs:  newFakeSubscriptions(),
		cache: newFakeCache(),
	}
	provider := &stubProvider{deliver: func(_ context.Context, sub *models.Subscription, payload *models.Payload) (models.DeliveryOutcome, error) {
		call := int(f.calls.Add(1))
		f.mu.Lock()
		f.payloads = append(f.payloads, payload)
		f.mu.Unlock()
		return respond(call, sub), nil
	}}
	logger := discardLogger()
	f.processor = NewPushProcessor(
		provider,
		NewBulkDispatcher(provider, 4, logger),
		NewLifecycleManager(f.store, logger),
		f.subs,
		f.cache,
		metrics.New(),
		logger,
		retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	)
	return f
}

func alwaysDelivered(int, *models.Subscription) models.DeliveryOutcome { return models.Delivered(201) }

func sendEnvelope(requestID, userID string) *models.MessageEnvelope {
	return &models.MessageEnvelope{
		RequestID: requestID,
		Channel:   models.ChannelPush,
		UserID:    userID,
		Notification: models.NotificationContent{
			Title: "Hello {{name}}",
			Body:  "You have {{count}} new messages",
			URL:   "/inbox",
			Data:  map[string]any{"thread": "t-9"},
		},
		Variables: map[string]interface{}{"name": "Ana", "count": 2},
	}
}

func TestProcessSendDelivers(t *testing.T) {
	f := newProcessorFixture(t, alwaysDelivered)
	f.subs.subs["u1"] = &models.Subscription{Endpoint: "https://push.example/u1"}

	require.NoError(t, f.processor.Process(context.Background(), sendEnvelope("req-1", "u1")))

	require.Len(t, f.payloads, 1)
	payload := f.payloads[0]
	assert.Equal(t, "Hello Ana", payload.Title)
	assert.Equal(t, "You have 2 new messages", payload.Body)
	assert.Equal(t, "/inbox", payload.URL)
	assert.Equal(t, "req-1", payload.Data["notificationId"])
	assert.Equal(t, "t-9", payload.Data["thread"])

	n := f.store.get("req-1")
	require.NotNil(t, n)
	assert.Equal(t, "Hello Ana", n.Title)
	assert.True(t, n.Sent)
	assert.NotNil(t, n.SentAt)
	assert.True(t, f.cache.processed["req-1"])
}

func TestProcessSendWithoutPush(t *testing.T) {
	f := newProcessorFixture(t, alwaysDelivered)
	f.subs.subs["u1"] = &models.Subscription{Endpoint: "https://push.example/u1"}
	env := sendEnvelope("req-1", "u1")
	noPush := false
	env.SendPush = &noPush

	require.NoError(t, f.processor.Process(context.Background(), env))

	assert.Zero(t, f.calls.Load())
	n := f.store.get("req-1")
	require.NotNil(t, n)
	assert.False(t, n.Sent)
}

func TestProcessSendWithoutSubscription(t *testing.T) {
	f := newProcessorFixture(t, alwaysDelivered)

	require.NoError(t, f.processor.Process(context.Background(), sendEnvelope("req-1", "u1")))

	assert.Zero(t, f.calls.Load())
	require.NotNil(t, f.store.get("req-1"))
	assert.False(t, f.store.get("req-1").Sent)
}

func TestProcessSendSkipsSuppressedEndpoint(t *testing.T) {
	f := newProcessorFixture(t, alwaysDelivered)
	f.subs.subs["u1"] = &models.Subscription{Endpoint: "https://push.example/u1"}
	f.cache.suppressed["https://push.example/u1"] = true

	require.NoError(t, f.processor.Process(context.Background(), sendEnvelope("req-1", "u1")))
	assert.Zero(t, f.calls.Load())
}

func TestProcessSendGoneInvalidatesSubscription(t *testing.T) {
	f := newProcessorFixture(t, func(int, *models.Subscription) models.DeliveryOutcome {
		return models.SubscriptionGone(410)
	})
	f.subs.subs["u1"] = &models.Subscription{Endpoint: "https://push.example/u1"}

	require.NoError(t, f.processor.Process(context.Background(), sendEnvelope("req-1", "u1")))

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, []string{"u1"}, f.subs.invalidated)
	assert.NotContains(t, f.subs.subs, "u1")
	assert.True(t, f.cache.suppressed["https://push.example/u1"])
	assert.False(t, f.store.get("req-1").Sent)
}

func TestProcessSendRetriesTransientFailures(t *testing.T) {
	f := newProcessorFixture(t, func(call int, _ *models.Subscription) models.DeliveryOutcome {
		if call == 1 {
			return models.TransientFailure("push gateway returned status 503", 503)
		}
		return models.Delivered(201)
	})
	f.subs.subs["u1"] = &models.Subscription{Endpoint: "https://push.example/u1"}

	require.NoError(t, f.processor.Process(context.Background(), sendEnvelope("req-1", "u1")))

	assert.Equal(t, int32(2), f.calls.Load())
	assert.True(t, f.store.get("req-1").Sent)
}

func TestProcessSendGivesUpAfterRetries(t *testing.T) {
	f := newProcessorFixture(t, func(int, *models.Subscription) models.DeliveryOutcome {
		return models.TransientFailure("timeout", 0)
	})
	f.subs.subs["u1"] = &models.Subscription{Endpoint: "https://push.example/u1"}

	require.NoError(t, f.processor.Process(context.Background(), sendEnvelope("req-1", "u1")))

	assert.Equal(t, int32(3), f.calls.Load())
	assert.False(t, f.store.get("req-1").Sent)
	assert.Empty(t, f.subs.invalidated)
}

func TestProcessBroadcast(t *testing.T) {
	f := newProcessorFixture(t, func(_ int, sub *models.Subscription) models.DeliveryOutcome {
		if sub.Endpoint == "https://push.example/u2" {
			return models.SubscriptionGone(410)
		}
		return models.Delivered(201)
	})
	f.subs.subs["u1"] = &models.Subscription{Endpoint: "https://push.example/u1"}
	f.subs.subs["u2"] = &models.Subscription{Endpoint: "https://push.example/u2"}
	env := &models.MessageEnvelope{
		RequestID:    "req-b",
		Channel:      models.ChannelPush,
		UserIDs:      []string{"u1", "u2", "u3", "u1", ""},
		Notification: models.NotificationContent{Title: "Maintenance", Body: "Tonight at 22:00"},
	}

	require.NoError(t, f.processor.Process(context.Background(), env))

	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, []string{"u2"}, f.subs.invalidated)
	assert.Contains(t, f.subs.subs, "u1")
	assert.Zero(t, f.store.count())
	assert.True(t, f.cache.processed["req-b"])
}

func TestProcessSkipsDuplicateRequest(t *testing.T) {
	f := newProcessorFixture(t, alwaysDelivered)
	f.subs.subs["u1"] = &models.Subscription{Endpoint: "https://push.example/u1"}
	f.cache.processed["req-1"] = true

	require.NoError(t, f.processor.Process(context.Background(), sendEnvelope("req-1", "u1")))

	assert.Zero(t, f.calls.Load())
	assert.Zero(t, f.store.count())
}

func TestProcessRejectsInvalidEnvelopes(t *testing.T) {
	cases := map[string]*models.MessageEnvelope{
		"wrong channel": {Channel: "email", UserID: "u1", Notification: models.NotificationContent{Title: "T", Body: "B"}},
		"empty title":   {Channel: models.ChannelPush, UserID: "u1", Notification: models.NotificationContent{Title: " ", Body: "B"}},
		"no recipient":  {Channel: models.ChannelPush, Notification: models.NotificationContent{Title: "T", Body: "B"}},
		"unknown":       {Channel: models.ChannelPush, Action: "archive"},
		"read no id":    {Channel: models.ChannelPush, Action: models.ActionRead},
		"delete no id":  {Channel: models.ChannelPush, Action: models.ActionDelete},
		"read_all":      {Channel: models.ChannelPush, Action: models.ActionReadAll},
		"subscribe":     {Channel: models.ChannelPush, Action: models.ActionSubscribe, UserID: "u1"},
		"bad endpoint":  {Channel: models.ChannelPush, Action: models.ActionSubscribe, UserID: "u1", Subscription: &models.Subscription{Endpoint: "not a url", Keys: models.Keys{Auth: "a", P256dh: "p"}}},
		"no keys":       {Channel: models.ChannelPush, Action: models.ActionSubscribe, UserID: "u1", Subscription: &models.Subscription{Endpoint: "https://push.example/x"}},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			f := newProcessorFixture(t, alwaysDelivered)
			assert.ErrorIs(t, f.processor.Process(context.Background(), env), ErrInvalidEnvelope)
		})
	}
}

func TestProcessReadAndDelete(t *testing.T) {
	f := newProcessorFixture(t, alwaysDelivered)
	ctx := context.Background()
	require.NoError(t, f.processor.Process(ctx, sendEnvelope("req-1", "u1")))

	read := &models.MessageEnvelope{Channel: models.ChannelPush, Action: models.ActionRead, NotificationID: "req-1"}
	require.NoError(t, f.processor.Process(ctx, read))
	assert.True(t, f.store.get("req-1").Read)

	del := &models.MessageEnvelope{Channel: models.ChannelPush, Action: models.ActionDelete, NotificationID: "req-1"}
	require.NoError(t, f.processor.Process(ctx, del))
	assert.Nil(t, f.store.get("req-1"))

	// Missing records are acknowledged, not retried.
	require.NoError(t, f.processor.Process(ctx, read))
	require.NoError(t, f.processor.Process(ctx, del))
}

func TestProcessReadAll(t *testing.T) {
	f := newProcessorFixture(t, alwaysDelivered)
	ctx := context.Background()
	require.NoError(t, f.processor.Process(ctx, sendEnvelope("req-1", "u1")))
	require.NoError(t, f.processor.Process(ctx, sendEnvelope("req-2", "u1")))

	env := &models.MessageEnvelope{Channel: models.ChannelPush, Action: models.ActionReadAll, UserID: "u1"}
	require.NoError(t, f.processor.Process(ctx, env))

	assert.True(t, f.store.get("req-1").Read)
	assert.True(t, f.store.get("req-2").Read)
}

func TestProcessSubscribe(t *testing.T) {
	f := newProcessorFixture(t, alwaysDelivered)
	sub := &models.Subscription{Endpoint: "https://push.example/new", Keys: models.Keys{Auth: "a", P256dh: "p"}}
	env := &models.MessageEnvelope{Channel: models.ChannelPush, Action: models.ActionSubscribe, UserID: "u1", Subscription: sub}

	require.NoError(t, f.processor.Process(context.Background(), env))

	stored, err := f.subs.LoadSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, *sub, *stored)
}
