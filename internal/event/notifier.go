// Package event provides the best-effort notifier that fans out state
// transitions to subscribers without adding latency to the request path.
package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// DefaultBufferSize is the default outbox capacity.
const DefaultBufferSize = 256

// ErrNotifierClosed is returned by Close when called more than once.
var ErrNotifierClosed = errors.New("notifier already closed")

// Sink delivers an encoded event payload to subscribers of a channel.
type Sink interface {
	Deliver(channel string, payload []byte) error
}

// Notifier hands events to a background worker over a bounded outbox.
// Publish never blocks and never fails the caller: when the buffer is full
// or the sink errors, the event is logged and dropped (at most once).
// Clients reconcile via fetch, so dropped notifications are tolerable.
type Notifier struct {
	sink    Sink
	out     chan Event
	metrics *Metrics

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewNotifier creates a notifier draining into sink. bufferSize <= 0 uses
// DefaultBufferSize. The worker goroutine starts immediately.
func NewNotifier(sink Sink, bufferSize int, metrics *Metrics) *Notifier {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	n := &Notifier{
		sink:    sink,
		out:     make(chan Event, bufferSize),
		metrics: metrics,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// Publish enqueues an event for delivery. Fire-and-forget: a full outbox
// drops the event rather than blocking the state-changing request.
// The outbox channel is never closed, so a publisher racing Close at
// worst enqueues an event the drained worker no longer picks up; it
// cannot panic on a closed channel.
func (n *Notifier) Publish(e Event) {
	select {
	case <-n.closed:
		slog.Warn("notifier closed, dropping event", "type", e.EventType(), "channel", e.Channel())
		n.dropped()
		return
	default:
	}

	select {
	case n.out <- e:
	default:
		slog.Warn("notifier outbox full, dropping event", "type", e.EventType(), "channel", e.Channel())
		n.dropped()
	}
}

// Close stops accepting events and drains the outbox until ctx expires.
func (n *Notifier) Close(ctx context.Context) error {
	err := ErrNotifierClosed
	n.closeOnce.Do(func() {
		close(n.closed)
		err = nil
	})
	if err != nil {
		return err
	}

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for {
		select {
		case e := <-n.out:
			n.deliver(e)
		case <-n.closed:
			// Deliver what was queued before shutdown, then stop.
			for {
				select {
				case e := <-n.out:
					n.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(e Event) {
	payload, err := Encode(e)
	if err != nil {
		slog.Error("failed to encode event", "type", e.EventType(), "error", err)
		n.dropped()
		return
	}

	if n.sink == nil {
		// No sink configured: valid in deployments without connected clients.
		n.dropped()
		return
	}

	if err := n.sink.Deliver(e.Channel(), payload); err != nil {
		// Deliberately swallowed: the state transition that triggered this
		// event has already committed and must not observe the failure.
		slog.Warn("failed to deliver event",
			"type", e.EventType(),
			"channel", e.Channel(),
			"error", err,
		)
		n.dropped()
		return
	}

	if n.metrics != nil {
		n.metrics.IncPublished(string(e.EventType()))
	}
}

func (n *Notifier) dropped() {
	if n.metrics != nil {
		n.metrics.IncDropped()
	}
}
