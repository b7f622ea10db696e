package idempotency

import (
	"sync"
	"time"
)

// InMemoryRepository keeps replay records in a map. Used by tests and
// by deployments without Postgres.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]IdempotencyKey
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[string]IdempotencyKey)}
}

func (r *InMemoryRepository) Get(key string) (*IdempotencyKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return cloneRecord(rec), nil
}

func (r *InMemoryRepository) Store(record *IdempotencyKey) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.records[record.Key]; dup {
		return ErrKeyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	r.records[record.Key] = *cloneRecord(*record)
	return nil
}

func (r *InMemoryRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-duration)
	var removed int64
	for key, rec := range r.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.records, key)
			removed++
		}
	}
	return removed, nil
}

// cloneRecord detaches the PaymentID pointer so callers cannot mutate
// stored state through a returned record.
func cloneRecord(rec IdempotencyKey) *IdempotencyKey {
	if rec.PaymentID != nil {
		id := *rec.PaymentID
		rec.PaymentID = &id
	}
	return &rec
}
