package payment

import (
	"context"
	"errors"
	"testing"
	"time"
)

func pendingPayment(reference string) *StreamPayment {
	return &StreamPayment{
		StreamID:    "st-1",
		UserID:      "viewer",
		AmountCents: 500,
		Currency:    "usd",
		Provider:    ProviderStripe,
		Reference:   reference,
	}
}

func TestCreatePendingAndLookup(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := pendingPayment("cs_123")
	if err := repo.CreatePending(ctx, p); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	if p.ID == "" {
		t.Error("expected a generated ID")
	}
	if p.Status != StatusPending {
		t.Errorf("Status = %q, want pending", p.Status)
	}

	got, err := repo.GetByReference(ctx, "cs_123")
	if err != nil {
		t.Fatalf("GetByReference: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("GetByReference ID = %q, want %q", got.ID, p.ID)
	}

	if _, err := repo.GetByReference(ctx, "cs_missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("missing reference error = %v, want ErrPaymentNotFound", err)
	}
}

func TestMarkCompletedIdempotent(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	if err := repo.CreatePending(ctx, pendingPayment("cs_123")); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	first := time.Now().UTC()
	p, err := repo.MarkCompleted(ctx, "cs_123", first)
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if p.Status != StatusCompleted || p.CompletedAt == nil {
		t.Fatalf("payment not completed: %+v", p)
	}

	// Replay keeps the original completion timestamp.
	p2, err := repo.MarkCompleted(ctx, "cs_123", first.Add(time.Hour))
	if err != nil {
		t.Fatalf("second MarkCompleted: %v", err)
	}
	if !p2.CompletedAt.Equal(*p.CompletedAt) {
		t.Errorf("CompletedAt changed on replay: %v != %v", p2.CompletedAt, p.CompletedAt)
	}
}

func TestTerminalStatesExclusive(t *testing.T) {
	ctx := context.Background()

	t.Run("failed then completed", func(t *testing.T) {
		repo := NewInMemoryRepository()
		if err := repo.CreatePending(ctx, pendingPayment("cs_1")); err != nil {
			t.Fatalf("CreatePending: %v", err)
		}
		if _, err := repo.MarkFailed(ctx, "cs_1", "card declined"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
		if _, err := repo.MarkCompleted(ctx, "cs_1", time.Now()); !errors.Is(err, ErrPaymentTerminal) {
			t.Errorf("MarkCompleted after failure error = %v, want ErrPaymentTerminal", err)
		}
	})

	t.Run("completed then failed", func(t *testing.T) {
		repo := NewInMemoryRepository()
		if err := repo.CreatePending(ctx, pendingPayment("cs_2")); err != nil {
			t.Fatalf("CreatePending: %v", err)
		}
		if _, err := repo.MarkCompleted(ctx, "cs_2", time.Now()); err != nil {
			t.Fatalf("MarkCompleted: %v", err)
		}
		if _, err := repo.MarkFailed(ctx, "cs_2", "late failure"); !errors.Is(err, ErrPaymentTerminal) {
			t.Errorf("MarkFailed after completion error = %v, want ErrPaymentTerminal", err)
		}
	})
}

func TestHasCompletedPayment(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	if err := repo.CreatePending(ctx, pendingPayment("cs_123")); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	paid, err := repo.HasCompletedPayment(ctx, "st-1", "viewer")
	if err != nil {
		t.Fatalf("HasCompletedPayment: %v", err)
	}
	if paid {
		t.Error("pending payment must not count as completed")
	}

	if _, err := repo.MarkCompleted(ctx, "cs_123", time.Now().UTC()); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	paid, err = repo.HasCompletedPayment(ctx, "st-1", "viewer")
	if err != nil {
		t.Fatalf("HasCompletedPayment: %v", err)
	}
	if !paid {
		t.Error("completed payment should count")
	}

	// Other users and streams are unaffected.
	if paid, _ := repo.HasCompletedPayment(ctx, "st-1", "other"); paid {
		t.Error("other user should not have a payment")
	}
	if paid, _ := repo.HasCompletedPayment(ctx, "st-2", "viewer"); paid {
		t.Error("other stream should not have a payment")
	}
}

func TestWebhookRepositoryIdempotency(t *testing.T) {
	repo := NewInMemoryWebhookRepository()
	ctx := context.Background()

	if err := repo.RecordEvent(ctx, "evt_1", "checkout.session.completed"); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := repo.RecordEvent(ctx, "evt_1", "checkout.session.completed"); !errors.Is(err, ErrEventAlreadyProcessed) {
		t.Errorf("duplicate RecordEvent error = %v, want ErrEventAlreadyProcessed", err)
	}

	processed, err := repo.HasProcessed(ctx, "evt_1")
	if err != nil {
		t.Fatalf("HasProcessed: %v", err)
	}
	if !processed {
		t.Error("evt_1 should be recorded")
	}
	if processed, _ := repo.HasProcessed(ctx, "evt_2"); processed {
		t.Error("evt_2 should not be recorded")
	}
}
