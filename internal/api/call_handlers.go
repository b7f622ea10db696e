package api

import (
	"context"
	"net/http"

	"github.com/tandem-social/tandem/internal/call"
)

// CallHandlers holds dependencies for call lifecycle HTTP handlers.
type CallHandlers struct {
	calls *call.Service
}

// NewCallHandlers creates a new CallHandlers instance.
func NewCallHandlers(calls *call.Service) *CallHandlers {
	return &CallHandlers{calls: calls}
}

// InitiateCallRequest is the request body for starting a call.
type InitiateCallRequest struct {
	Type string `json:"call_type"`
}

// KickRequest is the request body for removing a participant.
type KickRequest struct {
	TargetUserID string `json:"target_user_id"`
}

// CallResponse is the call state returned by every call operation. Token is
// the acting user's session credential and is only present when the
// operation issued or retained one for them.
type CallResponse struct {
	Call         *call.Call          `json:"call"`
	Participants []*call.Participant `json:"participants"`
	Token        string              `json:"token,omitempty"`
}

func callResponse(snap *call.Snapshot, userID string) CallResponse {
	resp := CallResponse{
		Call:         snap.Call,
		Participants: snap.Participants,
	}
	for _, p := range snap.Participants {
		if p.UserID == userID {
			resp.Token = p.Token
		}
	}
	return resp
}

// Initiate handles POST /conversations/{id}/calls.
func (h *CallHandlers) Initiate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req InitiateCallRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	snap, err := h.calls.Initiate(r.Context(), r.PathValue("id"), userID, call.Type(req.Type))
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusCreated, callResponse(snap, userID))
}

// Get handles GET /calls/{id}.
func (h *CallHandlers) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	snap, err := h.calls.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	// Call details are participant-only.
	if !isParticipant(snap, userID) {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "Not a participant of this call")
		return
	}
	WriteJSON(w, http.StatusOK, callResponse(snap, userID))
}

// Answer handles POST /calls/{id}/answer.
func (h *CallHandlers) Answer(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.calls.Answer)
}

// End handles POST /calls/{id}/end.
func (h *CallHandlers) End(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.calls.End)
}

// Reject handles POST /calls/{id}/reject.
func (h *CallHandlers) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.calls.Reject)
}

// Kick handles POST /calls/{id}/kick.
func (h *CallHandlers) Kick(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req KickRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TargetUserID == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "target_user_id is required")
		return
	}

	snap, err := h.calls.Kick(r.Context(), r.PathValue("id"), userID, req.TargetUserID)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, callResponse(snap, userID))
}

// History handles GET /conversations/{id}/calls.
func (h *CallHandlers) History(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	beforeID := r.URL.Query().Get("before_id")

	calls, err := h.calls.History(r.Context(), r.PathValue("id"), beforeID, limit)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (h *CallHandlers) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, callID, userID string) (*call.Snapshot, error)) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	snap, err := op(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		WriteDomainError(w, r.Context(), err)
		return
	}
	WriteJSON(w, http.StatusOK, callResponse(snap, userID))
}

func isParticipant(snap *call.Snapshot, userID string) bool {
	for _, p := range snap.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
