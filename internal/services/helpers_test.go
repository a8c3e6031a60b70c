package services

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/require"

	"github.com/CyberwizD/webpush-service/internal/models"
	"github.com/CyberwizD/webpush-service/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testVAPID(t *testing.T) VAPIDConfig {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return VAPIDConfig{PublicKey: pub, PrivateKey: priv, Subject: "mailto:ops@example.com"}
}

// browserSubscription returns a subscription with real client key material,
// as a browser would hand out, pointing at endpoint.
func browserSubscription(t *testing.T, endpoint string) *models.Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return &models.Subscription{
		Endpoint: endpoint,
		Keys: models.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

type stubProvider struct {
	deliver func(ctx context.Context, sub *models.Subscription, payload *models.Payload) (models.DeliveryOutcome, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Deliver(ctx context.Context, sub *models.Subscription, payload *models.Payload) (models.DeliveryOutcome, error) {
	return s.deliver(ctx, sub, payload)
}

// memoryStore is an in-memory NotificationStore.
type memoryStore struct {
	mu          sync.Mutex
	records     map[string]*models.Notification
	statusWrite int
	createErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]*models.Notification{}}
}

func (s *memoryStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.records[n.ID]; ok {
		return nil
	}
	cp := *n
	s.records[n.ID] = &cp
	return nil
}

func (s *memoryStore) PersistStatus(_ context.Context, id string, status models.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.statusWrite++
	if status.Sent && n.Sent {
		return nil
	}
	n.Sent, n.SentAt = status.Sent, status.SentAt
	return nil
}

func (s *memoryStore) MarkRead(_ context.Context, id string, at time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !n.Read {
		n.Read, n.ReadAt = true, &at
	}
	cp := *n
	return &cp, nil
}

func (s *memoryStore) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.records {
		if n.UserID == userID && !n.Read {
			n.Read, n.ReadAt = true, &at
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *memoryStore) get(id string) *models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
