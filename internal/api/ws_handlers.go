package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/tandem-social/tandem/internal/chat"
	"github.com/tandem-social/tandem/internal/event"
	"github.com/tandem-social/tandem/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware in front of the
		// upgrade; browsers send the same Origin header on both.
		return true
	},
}

// ConversationAccess authorizes a user against a conversation. Satisfied by
// *chat.Service; membership and stream-gate rules apply unchanged.
type ConversationAccess interface {
	Get(ctx context.Context, conversationID, userID string) (*chat.Conversation, error)
}

// WSHandlers holds dependencies for event subscription WebSocket handlers.
type WSHandlers struct {
	broadcaster *event.Broadcaster
	convos      ConversationAccess
}

// NewWSHandlers creates a new WSHandlers instance.
func NewWSHandlers(broadcaster *event.Broadcaster, convos ConversationAccess) *WSHandlers {
	return &WSHandlers{broadcaster: broadcaster, convos: convos}
}

// Subscribe handles WebSocket connections for real-time event delivery.
// GET /ws?channel=<channel>
//
// Conversation channels require the same access the conversation's message
// history requires. Call and stream channels are open to any authenticated
// user: their payloads carry state transitions only, never session tokens.
func (h *WSHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	channel := r.URL.Query().Get("channel")
	if channel == "" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "channel query parameter is required")
		return
	}

	switch {
	case strings.HasPrefix(channel, "conversation-"):
		conversationID := strings.TrimPrefix(channel, "conversation-")
		if _, err := h.convos.Get(ctx, conversationID, userID); err != nil {
			WriteDomainError(w, ctx, err)
			return
		}
	case strings.HasPrefix(channel, "call-"), strings.HasPrefix(channel, "stream-"):
	default:
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "unknown channel")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection",
			"error", err, "channel", channel)
		return
	}

	h.broadcaster.Subscribe(channel, conn)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed",
		"channel", channel, "user_id", userID, "request_id", requestID)

	defer func() {
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed",
			"channel", channel, "request_id", requestID)
	}()

	// Clients never send application messages; the read loop only detects
	// disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err, "channel", channel)
			}
			return
		}
	}
}
