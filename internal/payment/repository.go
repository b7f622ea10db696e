package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors for payment repository operations.
var (
	// ErrPaymentNotFound is returned when a payment record is not found.
	ErrPaymentNotFound = errors.New("payment record not found")

	// ErrPaymentTerminal is returned when mutating a completed or failed
	// payment into a different terminal state.
	ErrPaymentTerminal = errors.New("payment already reached a terminal state")
)

// Repository defines methods for stream payment persistence.
type Repository interface {
	// CreatePending inserts a provisional payment record.
	CreatePending(ctx context.Context, p *StreamPayment) error

	// GetByID retrieves a payment by ID.
	GetByID(ctx context.Context, id string) (*StreamPayment, error)

	// GetByReference retrieves a payment by provider reference.
	GetByReference(ctx context.Context, reference string) (*StreamPayment, error)

	// MarkCompleted transitions the payment to completed. Idempotent:
	// completing an already-completed payment is a no-op. Returns
	// ErrPaymentTerminal when the payment failed.
	MarkCompleted(ctx context.Context, reference string, at time.Time) (*StreamPayment, error)

	// MarkFailed transitions the payment to failed with a reason.
	// Idempotent on failed payments; ErrPaymentTerminal when completed.
	MarkFailed(ctx context.Context, reference, reason string) (*StreamPayment, error)

	// HasCompletedPayment reports whether the user holds a completed
	// payment for the stream.
	HasCompletedPayment(ctx context.Context, streamID, userID string) (bool, error)
}

// InMemoryRepository implements Repository with in-memory storage.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu          sync.RWMutex
	payments    map[string]*StreamPayment
	byReference map[string]string
}

// NewInMemoryRepository creates a new in-memory payment repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		payments:    make(map[string]*StreamPayment),
		byReference: make(map[string]string),
	}
}

// CreatePending inserts a provisional payment record.
func (r *InMemoryRepository) CreatePending(ctx context.Context, p *StreamPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Status = StatusPending

	copied := *p
	r.payments[p.ID] = &copied
	r.byReference[p.Reference] = p.ID
	return nil
}

// GetByID retrieves a payment by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*StreamPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

// GetByReference retrieves a payment by provider reference.
func (r *InMemoryRepository) GetByReference(ctx context.Context, reference string) (*StreamPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byReferenceLocked(reference)
}

func (r *InMemoryRepository) byReferenceLocked(reference string) (*StreamPayment, error) {
	id, ok := r.byReference[reference]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	copied := *r.payments[id]
	return &copied, nil
}

// MarkCompleted transitions the payment to completed.
func (r *InMemoryRepository) MarkCompleted(ctx context.Context, reference string, at time.Time) (*StreamPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byReference[reference]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	p := r.payments[id]

	switch p.Status {
	case StatusCompleted:
		// Replayed webhook: keep the original completion timestamp.
	case StatusFailed:
		return nil, ErrPaymentTerminal
	default:
		p.Status = StatusCompleted
		t := at
		p.CompletedAt = &t
	}

	copied := *p
	return &copied, nil
}

// MarkFailed transitions the payment to failed.
func (r *InMemoryRepository) MarkFailed(ctx context.Context, reference, reason string) (*StreamPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byReference[reference]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	p := r.payments[id]

	switch p.Status {
	case StatusFailed:
	case StatusCompleted:
		return nil, ErrPaymentTerminal
	default:
		p.Status = StatusFailed
		p.FailureReason = reason
	}

	copied := *p
	return &copied, nil
}

// HasCompletedPayment reports whether the user holds a completed payment
// for the stream.
func (r *InMemoryRepository) HasCompletedPayment(ctx context.Context, streamID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.payments {
		if p.StreamID == streamID && p.UserID == userID && p.Status == StatusCompleted {
			return true, nil
		}
	}
	return false, nil
}
