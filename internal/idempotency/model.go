// Package idempotency stores replay records for checkout requests so a
// retried POST with the same Idempotency-Key returns the original
// response instead of creating a second payment.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// MaxKeyLength bounds client-supplied keys; longer keys are rejected
// before any storage lookup.
const MaxKeyLength = 64

// StatusProcessing is written by the database CHECK constraint contract
// but not yet produced by this code; it marks a first request still
// in flight. StatusCompleted marks a persisted, replayable response.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

var (
	ErrKeyNotFound = errors.New("idempotency key not found")
	ErrKeyExists   = errors.New("idempotency key already exists")
	ErrInvalidKey  = errors.New("invalid idempotency key")
	ErrKeyTooLong  = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// IdempotencyKey is one replay record: the request identity plus the
// cached response to return on retry.
type IdempotencyKey struct {
	Key                string    `json:"key"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	CreatedAt          time.Time `json:"created_at"`
	PaymentID          *string   `json:"payment_id,omitempty"`
	ResponseHash       string    `json:"response_hash"`
	Status             string    `json:"status"`
	ResponseBody       string    `json:"response_body"`
	ResponseStatusCode int       `json:"response_status_code"`
}

// ValidateKey rejects empty keys and keys over MaxKeyLength.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return ErrInvalidKey
	case len(key) > MaxKeyLength:
		return ErrKeyTooLong
	default:
		return nil
	}
}

// ComputeResponseHash returns the hex SHA-256 of the response body,
// stored alongside the body to detect corruption on replay.
func ComputeResponseHash(responseBody string) string {
	sum := sha256.Sum256([]byte(responseBody))
	return hex.EncodeToString(sum[:])
}

// Repository persists replay records. Get returns ErrKeyNotFound for
// unknown keys; Store returns ErrKeyExists on duplicates so callers can
// distinguish a replay race from success. DeleteOlderThan backs the
// cleanup job and reports how many records it removed.
type Repository interface {
	Get(key string) (*IdempotencyKey, error)
	Store(record *IdempotencyKey) error
	DeleteOlderThan(duration time.Duration) (int64, error)
}
