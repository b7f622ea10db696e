package api

import (
	"net/http"

	"github.com/tandem-social/tandem/internal/payment"
	"github.com/tandem-social/tandem/internal/stream"
)

// PaymentHandlers holds dependencies for checkout and payment HTTP handlers.
type PaymentHandlers struct {
	payments *payment.Service
	streams  *stream.Service
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
func NewPaymentHandlers(payments *payment.Service, streams *stream.Service) *PaymentHandlers {
	return &PaymentHandlers{payments: payments, streams: streams}
}

// Checkout handles POST /streams/{id}/checkout.
func (h *PaymentHandlers) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	st, err := h.streams.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}

	intent, err := h.payments.StartCheckout(r.Context(), payment.StreamPricing{
		StreamID:    st.ID,
		Title:       st.Title,
		IsPaid:      st.IsPaid,
		AmountCents: st.PriceCents,
		Currency:    st.Currency,
	}, userID)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusCreated, intent)
}

// Get handles GET /payments/{id}. Payer-only.
func (h *PaymentHandlers) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p, err := h.payments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	if p.UserID != userID {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "Not your payment")
		return
	}
	WriteJSON(w, http.StatusOK, p)
}
