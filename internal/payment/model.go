// Package payment provides models and services for stream payment processing.
package payment

import "time"

// Status of a stream payment record.
type Status string

const (
	// StatusPending is a provisional record created when checkout starts.
	StatusPending Status = "pending"
	// StatusCompleted is terminal: the payment settled and grants permanent
	// access to the stream.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal for the attempt; the user may start a new
	// checkout.
	StatusFailed Status = "failed"
)

// StreamPayment is one payment attempt by a user for access to a paid
// stream. Reference is the provider's checkout session ID and is the key
// webhook events resolve against.
type StreamPayment struct {
	ID            string     `json:"id"`
	StreamID      string     `json:"stream_id"`
	UserID        string     `json:"user_id"`
	AmountCents   int64      `json:"amount_cents"`
	Currency      string     `json:"currency"`
	Status        Status     `json:"status"`
	Provider      string     `json:"provider"`
	Reference     string     `json:"reference"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the payment reached a final state.
func (p *StreamPayment) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// CheckoutIntent is what the client needs to complete payment with the
// provider.
type CheckoutIntent struct {
	PaymentID string `json:"payment_id"`
	Reference string `json:"reference"`
	URL       string `json:"url"`
}
