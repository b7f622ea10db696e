package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tandem-social/tandem/internal/event"
)

type captureNotifier struct {
	events []event.Event
}

func (n *captureNotifier) Publish(e event.Event) {
	n.events = append(n.events, e)
}

// stubStreamGate admits listed users and denies the rest with the given error.
type stubStreamGate struct {
	admitted map[string]bool
	denyErr  error
}

func (g *stubStreamGate) AuthorizeViewer(ctx context.Context, streamID, userID string) error {
	if g.admitted[userID] {
		return nil
	}
	return g.denyErr
}

func TestCreateDirectValidation(t *testing.T) {
	svc := NewService(NewInMemoryRepository(), nil, nil)
	ctx := context.Background()

	if _, err := svc.CreateDirect(ctx, "alice", "alice"); !errors.Is(err, ErrTooFewMembers) {
		t.Errorf("self-conversation error = %v, want ErrTooFewMembers", err)
	}

	c, err := svc.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
	if c.Type != ConversationDirect {
		t.Errorf("Type = %q, want direct", c.Type)
	}

	members, err := svc.repo.Members(ctx, c.ID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("members = %v, want 2 entries", members)
	}
}

func TestCreateGroupDedupesMembers(t *testing.T) {
	svc := NewService(NewInMemoryRepository(), nil, nil)
	ctx := context.Background()

	c, err := svc.CreateGroup(ctx, "alice", "trio", []string{"bob", "carol", "bob", "alice"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	members, _ := svc.repo.Members(ctx, c.ID)
	if len(members) != 3 {
		t.Errorf("members = %v, want 3 entries", members)
	}
}

func TestSendRequiresMembership(t *testing.T) {
	repo := NewInMemoryRepository()
	notifier := &captureNotifier{}
	svc := NewService(repo, nil, notifier)
	ctx := context.Background()

	c, _ := svc.CreateDirect(ctx, "alice", "bob")

	if _, err := svc.Send(ctx, c.ID, "eve", MessageText, "hi", "", nil); !errors.Is(err, ErrNotMember) {
		t.Errorf("outsider send error = %v, want ErrNotMember", err)
	}
	if len(notifier.events) != 0 {
		t.Error("denied send must not publish an event")
	}

	m, err := svc.Send(ctx, c.ID, "alice", MessageText, "  hi bob  ", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.Body != "hi bob" {
		t.Errorf("Body = %q, want trimmed text", m.Body)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("published events = %d, want 1", len(notifier.events))
	}
	sent, ok := notifier.events[0].(*event.MessageSent)
	if !ok {
		t.Fatalf("event type = %T, want *event.MessageSent", notifier.events[0])
	}
	if sent.Channel() != "conversation-"+c.ID {
		t.Errorf("Channel = %q, want conversation-%s", sent.Channel(), c.ID)
	}
}

func TestSendValidation(t *testing.T) {
	svc := NewService(NewInMemoryRepository(), nil, nil)
	ctx := context.Background()
	c, _ := svc.CreateDirect(ctx, "alice", "bob")

	tests := []struct {
		name    string
		msgType MessageType
		body    string
		wantErr error
	}{
		{"unknown type", MessageType("sticker"), "x", ErrInvalidMessageType},
		{"empty text", MessageText, "   ", ErrEmptyMessage},
		{"image without body ok", MessageImage, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(ctx, c.ID, "alice", tt.msgType, tt.body, "", nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Send error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSendReplyValidation(t *testing.T) {
	svc := NewService(NewInMemoryRepository(), nil, nil)
	ctx := context.Background()

	c1, _ := svc.CreateDirect(ctx, "alice", "bob")
	c2, _ := svc.CreateDirect(ctx, "alice", "carol")

	original, err := svc.Send(ctx, c1.ID, "alice", MessageText, "first", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Reply within the same conversation works.
	reply, err := svc.Send(ctx, c1.ID, "bob", MessageText, "re: first", original.ID, nil)
	if err != nil {
		t.Fatalf("Send reply: %v", err)
	}
	if reply.ReplyToID != original.ID {
		t.Errorf("ReplyToID = %q, want %q", reply.ReplyToID, original.ID)
	}

	// Cross-conversation replies are rejected.
	if _, err := svc.Send(ctx, c2.ID, "alice", MessageText, "stolen reply", original.ID, nil); !errors.Is(err, ErrReplyTargetMissing) {
		t.Errorf("cross-conversation reply error = %v, want ErrReplyTargetMissing", err)
	}
}

func TestStreamConversationUsesGate(t *testing.T) {
	repo := NewInMemoryRepository()
	gate := &stubStreamGate{
		admitted: map[string]bool{"viewer": true},
		denyErr:  errors.New("payment required"),
	}
	svc := NewService(repo, gate, nil)
	ctx := context.Background()

	c, err := svc.CreateStreamConversation(ctx, "st-1", "owner")
	if err != nil {
		t.Fatalf("CreateStreamConversation: %v", err)
	}

	// The owner is a member row and bypasses the gate.
	if _, err := svc.Send(ctx, c.ID, "owner", MessageText, "welcome", "", nil); err != nil {
		t.Fatalf("owner send: %v", err)
	}
	// Admitted viewers pass through the gate.
	if _, err := svc.Send(ctx, c.ID, "viewer", MessageText, "hello", "", nil); err != nil {
		t.Fatalf("viewer send: %v", err)
	}
	// Gate denials propagate.
	if _, err := svc.Send(ctx, c.ID, "freeloader", MessageText, "hi", "", nil); !errors.Is(err, gate.denyErr) {
		t.Errorf("denied send error = %v, want gate error", err)
	}
}

func TestHistoryPagination(t *testing.T) {
	repo := NewInMemoryRepository()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	c, _ := svc.CreateDirect(ctx, "alice", "bob")

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		svc.now = func() time.Time { return ts }
		if _, err := svc.Send(ctx, c.ID, "alice", MessageText, "msg", "", nil); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	if _, _, err := svc.History(ctx, c.ID, "eve", 10, nil); !errors.Is(err, ErrNotMember) {
		t.Errorf("outsider history error = %v, want ErrNotMember", err)
	}

	page1, cursor, err := svc.History(ctx, c.ID, "bob", 2, nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page1) != 2 || cursor == nil {
		t.Fatalf("page1 = %d messages, cursor = %v; want 2 and non-nil", len(page1), cursor)
	}
	if !page1[0].CreatedAt.After(page1[1].CreatedAt) && !page1[0].CreatedAt.Equal(page1[1].CreatedAt) {
		t.Error("history must be newest-first")
	}

	page2, cursor2, err := svc.History(ctx, c.ID, "bob", 2, cursor)
	if err != nil {
		t.Fatalf("History page 2: %v", err)
	}
	if len(page2) != 2 || cursor2 == nil {
		t.Fatalf("page2 = %d messages, cursor = %v; want 2 and non-nil", len(page2), cursor2)
	}

	page3, cursor3, err := svc.History(ctx, c.ID, "bob", 2, cursor2)
	if err != nil {
		t.Fatalf("History page 3: %v", err)
	}
	if len(page3) != 1 || cursor3 != nil {
		t.Errorf("page3 = %d messages, cursor = %v; want 1 and nil", len(page3), cursor3)
	}

	// No overlap across pages.
	seen := map[string]bool{}
	for _, m := range append(append(page1, page2...), page3...) {
		if seen[m.ID] {
			t.Errorf("message %s returned twice", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestDeleteSenderOnly(t *testing.T) {
	svc := NewService(NewInMemoryRepository(), nil, nil)
	ctx := context.Background()

	c, _ := svc.CreateDirect(ctx, "alice", "bob")
	m, err := svc.Send(ctx, c.ID, "alice", MessageText, "oops", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := svc.Delete(ctx, m.ID, "bob"); !errors.Is(err, ErrNotSender) {
		t.Errorf("Delete by non-sender error = %v, want ErrNotSender", err)
	}
	if err := svc.Delete(ctx, m.ID, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, m.ID, "alice"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("second Delete error = %v, want ErrMessageNotFound", err)
	}

	// Deleted messages drop out of history.
	msgs, _, err := svc.History(ctx, c.ID, "alice", 10, nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("history after delete = %d messages, want 0", len(msgs))
	}
}
