package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/tandem-social/tandem/internal/payment"
)

func startCheckout(t *testing.T, f *fixture, streamID, userID string) payment.CheckoutIntent {
	t.Helper()
	w := f.do(t, http.MethodPost, "/streams/"+streamID+"/checkout", userID, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("checkout: status = %d, body = %s", w.Code, w.Body.String())
	}
	var intent payment.CheckoutIntent
	decode(t, w, &intent)
	return intent
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	created := createStream(t, f, "olivia",
		CreateStreamRequest{Title: "premium", IsPaid: true, PriceCents: 500, Currency: "usd", FreeMinutes: 5})

	intent := startCheckout(t, f, created.Stream.ID, "vera")
	if intent.PaymentID == "" || intent.Reference == "" || intent.URL == "" {
		t.Errorf("incomplete intent: %+v", intent)
	}

	// The pending record is visible to its payer only.
	w := f.do(t, http.MethodGet, "/payments/"+intent.PaymentID, "vera", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get payment: status = %d", w.Code)
	}
	var p payment.StreamPayment
	decode(t, w, &p)
	if p.Status != payment.StatusPending {
		t.Errorf("status = %q, want pending", p.Status)
	}
	if p.AmountCents != 500 {
		t.Errorf("amount = %d, want 500", p.AmountCents)
	}

	if w := f.do(t, http.MethodGet, "/payments/"+intent.PaymentID, "mallory", nil); w.Code != http.StatusForbidden {
		t.Errorf("foreign payment read: status = %d, want 403", w.Code)
	}
}

func TestCheckoutFreeStream(t *testing.T) {
	f := newFixture(t)
	created := createStream(t, f, "olivia", CreateStreamRequest{Title: "free set"})

	w := f.do(t, http.MethodPost, "/streams/"+created.Stream.ID+"/checkout", "vera", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("free checkout: status = %d, want 400", w.Code)
	}
	if got := errorCode(t, w); got != ErrCodeValidation {
		t.Errorf("error code = %q", got)
	}
}

func TestCheckoutUnknownStream(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodPost, "/streams/nope/checkout", "vera", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCheckoutAfterCompletedPayment(t *testing.T) {
	f := newFixture(t)
	created := createStream(t, f, "olivia",
		CreateStreamRequest{Title: "premium", IsPaid: true, PriceCents: 500, Currency: "usd", FreeMinutes: 5})

	intent := startCheckout(t, f, created.Stream.ID, "vera")
	err := f.payments.HandleCheckoutCompleted(context.Background(), "evt_1", "checkout.session.completed", intent.Reference)
	if err != nil {
		t.Fatalf("HandleCheckoutCompleted: %v", err)
	}

	w := f.do(t, http.MethodPost, "/streams/"+created.Stream.ID+"/checkout", "vera", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second checkout: status = %d, want 409", w.Code)
	}
	if got := errorCode(t, w); got != ErrCodeConflict {
		t.Errorf("error code = %q", got)
	}
}
