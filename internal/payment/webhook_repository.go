package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEventAlreadyProcessed marks a webhook delivery whose event ID has
// been seen before.
var ErrEventAlreadyProcessed = errors.New("webhook event already processed")

// WebhookEvent is one recorded delivery from the payment provider.
type WebhookEvent struct {
	ID          string
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

// WebhookRepository deduplicates webhook deliveries. Stripe retries
// deliveries until acknowledged, so RecordEvent returns
// ErrEventAlreadyProcessed on a repeat and side effects apply once.
type WebhookRepository interface {
	RecordEvent(ctx context.Context, eventID, eventType string) error
	HasProcessed(ctx context.Context, eventID string) (bool, error)
}

// InMemoryWebhookRepository keeps processed event IDs in a map, for
// tests and single-process runs.
type InMemoryWebhookRepository struct {
	mu     sync.RWMutex
	events map[string]*WebhookEvent
}

func NewInMemoryWebhookRepository() *InMemoryWebhookRepository {
	return &InMemoryWebhookRepository{events: make(map[string]*WebhookEvent)}
}

func (r *InMemoryWebhookRepository) RecordEvent(ctx context.Context, eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.events[eventID]; seen {
		return ErrEventAlreadyProcessed
	}
	r.events[eventID] = &WebhookEvent{
		ID:          uuid.New().String(),
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
	}
	return nil
}

func (r *InMemoryWebhookRepository) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, seen := r.events[eventID]
	return seen, nil
}
