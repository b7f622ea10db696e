package stream

import (
	"context"
	"testing"
	"time"
)

// stubPayments is an in-memory PaymentChecker keyed by stream/user.
type stubPayments struct {
	completed map[string]bool
	err       error
}

func (p *stubPayments) HasCompletedPayment(ctx context.Context, streamID, userID string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.completed[streamID+"/"+userID], nil
}

func newLiveStream(t *testing.T, repo Repository, paid bool, freeMinutes int) *Stream {
	t.Helper()
	st := &Stream{
		ID:          "st-1",
		OwnerID:     "owner",
		ChannelName: "stream-ch-1",
		Title:       "test stream",
		Status:      StatusUpcoming,
		IsPaid:      paid,
		FreeMinutes: freeMinutes,
		CreatedAt:   time.Now().UTC(),
	}
	if paid {
		st.PriceCents = 500
		st.Currency = "usd"
	}
	if err := repo.CreateStream(context.Background(), st); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	live, err := repo.SetLive(context.Background(), st.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("SetLive: %v", err)
	}
	return live
}

func TestCanJoinFreeStream(t *testing.T) {
	repo := NewInMemoryRepository()
	gate := NewAccessGate(repo, &stubPayments{})
	st := newLiveStream(t, repo, false, 0)

	ok, err := gate.CanJoin(context.Background(), st, "viewer")
	if err != nil {
		t.Fatalf("CanJoin: %v", err)
	}
	if !ok {
		t.Error("expected free stream to admit any viewer")
	}
}

func TestCanJoinNotLive(t *testing.T) {
	repo := NewInMemoryRepository()
	gate := NewAccessGate(repo, &stubPayments{})
	st := &Stream{ID: "st-1", Status: StatusUpcoming}

	ok, err := gate.CanJoin(context.Background(), st, "viewer")
	if err != nil {
		t.Fatalf("CanJoin: %v", err)
	}
	if ok {
		t.Error("expected non-live stream to deny joins")
	}

	if err := gate.Authorize(context.Background(), st, "viewer"); err != ErrStreamNotLive {
		t.Errorf("Authorize error = %v, want ErrStreamNotLive", err)
	}
}

func TestFreeWindowStartsAtFirstJoin(t *testing.T) {
	repo := NewInMemoryRepository()
	payments := &stubPayments{completed: map[string]bool{}}
	gate := NewAccessGate(repo, payments)
	st := newLiveStream(t, repo, true, 10)

	base := time.Now().UTC()
	gate.now = func() time.Time { return base }

	// Before any join the window has not started.
	exceeded, err := gate.HasExceededFreeWindow(context.Background(), st, "viewer")
	if err != nil {
		t.Fatalf("HasExceededFreeWindow: %v", err)
	}
	if exceeded {
		t.Error("window should not be exceeded before first join")
	}

	// First join anchors the window.
	_, err = repo.AddViewer(context.Background(), &Viewer{
		StreamID: st.ID, UserID: "viewer", JoinedAt: base,
	})
	if err != nil {
		t.Fatalf("AddViewer: %v", err)
	}

	// 9 minutes in: still inside the window.
	gate.now = func() time.Time { return base.Add(9 * time.Minute) }
	ok, err := gate.CanJoin(context.Background(), st, "viewer")
	if err != nil {
		t.Fatalf("CanJoin: %v", err)
	}
	if !ok {
		t.Error("viewer inside free window should be admitted")
	}

	// 10 minutes in: window spent.
	gate.now = func() time.Time { return base.Add(10 * time.Minute) }
	ok, err = gate.CanJoin(context.Background(), st, "viewer")
	if err != nil {
		t.Fatalf("CanJoin: %v", err)
	}
	if ok {
		t.Error("viewer past free window should be denied")
	}
	if err := gate.Authorize(context.Background(), st, "viewer"); err != ErrPaymentRequired {
		t.Errorf("Authorize error = %v, want ErrPaymentRequired", err)
	}
}

func TestRejoinDoesNotResetFreeWindow(t *testing.T) {
	repo := NewInMemoryRepository()
	gate := NewAccessGate(repo, &stubPayments{})
	st := newLiveStream(t, repo, true, 10)

	base := time.Now().UTC()
	ctx := context.Background()

	// Join at t0, leave at t+2m, rejoin at t+5m.
	if _, err := repo.AddViewer(ctx, &Viewer{StreamID: st.ID, UserID: "viewer", JoinedAt: base}); err != nil {
		t.Fatalf("AddViewer: %v", err)
	}
	if _, _, err := repo.RemoveViewer(ctx, st.ID, "viewer", base.Add(2*time.Minute)); err != nil {
		t.Fatalf("RemoveViewer: %v", err)
	}
	if _, err := repo.AddViewer(ctx, &Viewer{StreamID: st.ID, UserID: "viewer", JoinedAt: base.Add(5 * time.Minute)}); err != nil {
		t.Fatalf("AddViewer rejoin: %v", err)
	}

	// 12 minutes after the FIRST join the window is spent, even though the
	// second session is only 7 minutes old.
	gate.now = func() time.Time { return base.Add(12 * time.Minute) }
	exceeded, err := gate.HasExceededFreeWindow(ctx, st, "viewer")
	if err != nil {
		t.Fatalf("HasExceededFreeWindow: %v", err)
	}
	if !exceeded {
		t.Error("rejoin must not reset the free window")
	}
}

func TestCompletedPaymentGrantsPermanentAccess(t *testing.T) {
	repo := NewInMemoryRepository()
	payments := &stubPayments{completed: map[string]bool{"st-1/viewer": true}}
	gate := NewAccessGate(repo, payments)
	st := newLiveStream(t, repo, true, 10)

	base := time.Now().UTC()
	if _, err := repo.AddViewer(context.Background(), &Viewer{StreamID: st.ID, UserID: "viewer", JoinedAt: base}); err != nil {
		t.Fatalf("AddViewer: %v", err)
	}

	// Hours past the free window, a completed payment still admits.
	gate.now = func() time.Time { return base.Add(5 * time.Hour) }
	ok, err := gate.CanJoin(context.Background(), st, "viewer")
	if err != nil {
		t.Fatalf("CanJoin: %v", err)
	}
	if !ok {
		t.Error("completed payment should grant permanent access")
	}
	if err := gate.Authorize(context.Background(), st, "viewer"); err != nil {
		t.Errorf("Authorize: %v", err)
	}
}

func TestFreeWindowIgnoredOnFreeStream(t *testing.T) {
	repo := NewInMemoryRepository()
	gate := NewAccessGate(repo, &stubPayments{})
	st := newLiveStream(t, repo, false, 0)

	base := time.Now().UTC()
	if _, err := repo.AddViewer(context.Background(), &Viewer{StreamID: st.ID, UserID: "viewer", JoinedAt: base}); err != nil {
		t.Fatalf("AddViewer: %v", err)
	}

	gate.now = func() time.Time { return base.Add(24 * time.Hour) }
	exceeded, err := gate.HasExceededFreeWindow(context.Background(), st, "viewer")
	if err != nil {
		t.Fatalf("HasExceededFreeWindow: %v", err)
	}
	if exceeded {
		t.Error("free streams never exceed a window")
	}
}
