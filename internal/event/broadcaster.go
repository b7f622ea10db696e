// Package event provides WebSocket broadcasting of fan-out events.
package event

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Broadcaster manages WebSocket subscriptions per channel and implements
// Sink. Delivery performs no locking beyond the subscription map and may
// interleave arbitrarily with other channels' deliveries; payloads are
// self-contained so subscribers tolerate reordering.
type Broadcaster struct {
	mu          sync.RWMutex
	connections map[string]map[*websocket.Conn]bool // channel -> connections
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		connections: make(map[string]map[*websocket.Conn]bool),
	}
}

// Subscribe registers a WebSocket connection for a channel.
func (b *Broadcaster) Subscribe(channel string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connections[channel] == nil {
		b.connections[channel] = make(map[*websocket.Conn]bool)
	}
	b.connections[channel][conn] = true
}

// Unsubscribe removes a WebSocket connection from all channels.
func (b *Broadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for channel, conns := range b.connections {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(b.connections, channel)
		}
	}
}

// Deliver sends an encoded payload to every subscriber of the channel.
// A write failure to one connection does not stop delivery to the rest;
// the failed connection is cleaned up when the client disconnects.
func (b *Broadcaster) Deliver(channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conns, exists := b.connections[channel]
	if !exists || len(conns) == 0 {
		return nil
	}

	var firstErr error
	for conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ConnectionCount returns the number of active connections for a channel.
func (b *Broadcaster) ConnectionCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if conns, exists := b.connections[channel]; exists {
		return len(conns)
	}
	return 0
}
