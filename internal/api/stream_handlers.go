package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tandem-social/tandem/internal/chat"
	"github.com/tandem-social/tandem/internal/stream"
)

// StreamConversations creates the chat conversation backing a stream.
// Satisfied by *chat.Service.
type StreamConversations interface {
	CreateStreamConversation(ctx context.Context, streamID, ownerID string) (*chat.Conversation, error)
}

// StreamHandlers holds dependencies for stream lifecycle HTTP handlers.
type StreamHandlers struct {
	streams *stream.Service
	convos  StreamConversations // optional
}

// NewStreamHandlers creates a new StreamHandlers instance.
func NewStreamHandlers(streams *stream.Service, convos StreamConversations) *StreamHandlers {
	return &StreamHandlers{streams: streams, convos: convos}
}

// CreateStreamRequest is the request body for creating a stream.
type CreateStreamRequest struct {
	Title       string `json:"title"`
	IsPaid      bool   `json:"is_paid"`
	PriceCents  int64  `json:"price_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
	FreeMinutes int    `json:"free_minutes,omitempty"`
}

// CreateStreamResponse carries the new stream and its chat conversation.
type CreateStreamResponse struct {
	Stream         *stream.Stream `json:"stream"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// GoLiveResponse carries the live stream and the owner's publisher credential.
type GoLiveResponse struct {
	Stream *stream.Stream `json:"stream"`
	Token  string         `json:"token"`
}

// Create handles POST /streams.
func (h *StreamHandlers) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req CreateStreamRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	st, err := h.streams.Create(r.Context(), userID, req.Title, req.IsPaid, req.PriceCents, req.Currency, req.FreeMinutes)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}

	resp := CreateStreamResponse{Stream: st}
	if h.convos != nil {
		conv, err := h.convos.CreateStreamConversation(r.Context(), st.ID, userID)
		if err != nil {
			// The stream exists; the chat conversation can be provisioned later.
			slog.ErrorContext(r.Context(), "failed to create stream conversation",
				"stream_id", st.ID, "error", err)
		} else {
			resp.ConversationID = conv.ID
		}
	}
	WriteJSON(w, http.StatusCreated, resp)
}

// Get handles GET /streams/{id}.
func (h *StreamHandlers) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.streams.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// ListLive handles GET /streams/live.
func (h *StreamHandlers) ListLive(w http.ResponseWriter, r *http.Request) {
	streams, err := h.streams.ListLive(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

// GoLive handles POST /streams/{id}/live.
func (h *StreamHandlers) GoLive(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	st, cred, err := h.streams.GoLive(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, GoLiveResponse{Stream: st, Token: cred.Token})
}

// End handles POST /streams/{id}/end.
func (h *StreamHandlers) End(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	st, err := h.streams.End(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// Join handles POST /streams/{id}/join.
func (h *StreamHandlers) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.streams.Join(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Leave handles POST /streams/{id}/leave.
func (h *StreamHandlers) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.streams.Leave(r.Context(), r.PathValue("id"), userID); err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Viewers handles GET /streams/{id}/viewers.
func (h *StreamHandlers) Viewers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	viewers, err := h.streams.Viewers(r.Context(), r.PathValue("id"),
		queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"viewers": viewers})
}
