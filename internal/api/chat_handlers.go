package api

import (
	"net/http"

	"github.com/tandem-social/tandem/internal/chat"
)

// ConversationHandlers holds dependencies for conversation and message
// HTTP handlers.
type ConversationHandlers struct {
	chats *chat.Service
}

// NewConversationHandlers creates a new ConversationHandlers instance.
func NewConversationHandlers(chats *chat.Service) *ConversationHandlers {
	return &ConversationHandlers{chats: chats}
}

// CreateConversationRequest is the request body for creating a conversation.
// Direct conversations take a single user_id; group conversations take a
// title and member_ids.
type CreateConversationRequest struct {
	Type      string   `json:"type"`
	UserID    string   `json:"user_id,omitempty"`
	Title     string   `json:"title,omitempty"`
	MemberIDs []string `json:"member_ids,omitempty"`
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	MessageType string            `json:"message_type"`
	Body        string            `json:"body,omitempty"`
	ReplyToID   string            `json:"reply_to_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MessageHistoryResponse carries a page of messages newest-first. NextCursor
// is the before_id value for the following page, empty when exhausted.
type MessageHistoryResponse struct {
	Messages   []*chat.Message `json:"messages"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Create handles POST /conversations.
func (h *ConversationHandlers) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req CreateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		conv *chat.Conversation
		err  error
	)
	switch chat.ConversationType(req.Type) {
	case chat.ConversationDirect:
		if req.UserID == "" {
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "user_id is required for direct conversations")
			return
		}
		conv, err = h.chats.CreateDirect(r.Context(), userID, req.UserID)
	case chat.ConversationGroup:
		conv, err = h.chats.CreateGroup(r.Context(), userID, req.Title, req.MemberIDs)
	default:
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "type must be direct or group")
		return
	}
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusCreated, conv)
}

// Get handles GET /conversations/{id}.
func (h *ConversationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	conv, err := h.chats.Get(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, conv)
}

// Send handles POST /conversations/{id}/messages.
func (h *ConversationHandlers) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.chats.Send(r.Context(), r.PathValue("id"), userID,
		chat.MessageType(req.MessageType), req.Body, req.ReplyToID, req.Metadata)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusCreated, msg)
}

// History handles GET /conversations/{id}/messages.
func (h *ConversationHandlers) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	beforeID := r.URL.Query().Get("before_id")

	messages, next, err := h.chats.HistoryBefore(r.Context(), r.PathValue("id"), userID, limit, beforeID)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	if messages == nil {
		messages = []*chat.Message{}
	}

	resp := MessageHistoryResponse{Messages: messages}
	if next != nil {
		resp.NextCursor = next.ID
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /messages/{id}.
func (h *ConversationHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.chats.Delete(r.Context(), r.PathValue("id"), userID); err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
