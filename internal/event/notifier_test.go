package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	block    chan struct{} // when non-nil, Deliver waits until closed
	err      error
}

func (s *captureSink) Deliver(channel string, payload []byte) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.channels = append(s.channels, channel)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestEncodeEnvelope(t *testing.T) {
	e := &ViewerJoined{
		StreamID:       "s1",
		UserID:         "alice",
		ChannelName:    "stream-s1",
		CurrentViewers: 3,
		JoinedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	raw, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var env struct {
		V       int             `json:"v"`
		Type    string          `json:"type"`
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if env.V != SchemaVersion {
		t.Errorf("v = %d, want %d", env.V, SchemaVersion)
	}
	if env.Type != string(TypeViewerJoined) {
		t.Errorf("type = %q, want %q", env.Type, TypeViewerJoined)
	}
	if env.Channel != "stream-s1" {
		t.Errorf("channel = %q, want stream-s1", env.Channel)
	}

	var data ViewerJoined
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("Unmarshal data: %v", err)
	}
	if data.CurrentViewers != 3 || data.UserID != "alice" {
		t.Errorf("data = %+v", data)
	}
}

func TestNotifierDelivers(t *testing.T) {
	sink := &captureSink{}
	n := NewNotifier(sink, 8, nil)
	defer n.Close(context.Background())

	n.Publish(&ViewerJoined{StreamID: "s1", ChannelName: "stream-s1", UserID: "alice"})
	n.Publish(&MessageSent{MessageID: "m1", ConversationID: "c1", SenderID: "alice"})

	waitFor(t, func() bool { return sink.count() == 2 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.channels[0] != "stream-s1" {
		t.Errorf("channel[0] = %q, want stream-s1", sink.channels[0])
	}
	if sink.channels[1] != "conversation-c1" {
		t.Errorf("channel[1] = %q, want conversation-c1", sink.channels[1])
	}
}

func TestNotifierPublishNeverBlocks(t *testing.T) {
	sink := &captureSink{block: make(chan struct{})}
	n := NewNotifier(sink, 1, nil)

	done := make(chan struct{})
	go func() {
		// One event occupies the worker, one fills the outbox, the rest
		// must be dropped without blocking.
		for i := 0; i < 10; i++ {
			n.Publish(&ViewerLeft{StreamID: "s1", ChannelName: "stream-s1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full outbox")
	}

	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.count() > 2 {
		t.Errorf("delivered = %d, want at most 2 with buffer 1", sink.count())
	}
}

func TestNotifierSinkErrorDoesNotPropagate(t *testing.T) {
	sink := &captureSink{err: errors.New("subscriber gone")}
	n := NewNotifier(sink, 8, nil)

	n.Publish(&ViewerJoined{StreamID: "s1", ChannelName: "stream-s1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNotifierPublishRacingClose(t *testing.T) {
	// Publishers caught between the closed-check and the enqueue while
	// Close runs must drop the event, never panic.
	for i := 0; i < 200; i++ {
		n := NewNotifier(&captureSink{}, 4, nil)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 20; j++ {
					n.Publish(&ViewerLeft{StreamID: "s1", ChannelName: "stream-s1"})
				}
			}()
		}

		close(start)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := n.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
		cancel()
		wg.Wait()
	}
}

func TestNotifierCloseDrainsQueuedEvents(t *testing.T) {
	sink := &captureSink{block: make(chan struct{})}
	n := NewNotifier(sink, 8, nil)

	// One event parks the worker in the sink, two wait in the outbox.
	for i := 0; i < 3; i++ {
		n.Publish(&ViewerJoined{StreamID: "s1", ChannelName: "stream-s1"})
	}
	close(sink.block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.count() != 3 {
		t.Errorf("delivered = %d, want all 3 queued events drained", sink.count())
	}
}

func TestNotifierClose(t *testing.T) {
	n := NewNotifier(&captureSink{}, 8, nil)

	ctx := context.Background()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Close(ctx); !errors.Is(err, ErrNotifierClosed) {
		t.Errorf("second Close error = %v, want ErrNotifierClosed", err)
	}

	// Publishing after close drops the event without panicking.
	n.Publish(&ViewerJoined{StreamID: "s1", ChannelName: "stream-s1"})
}
