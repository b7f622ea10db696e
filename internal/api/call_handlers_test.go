package api

import (
	"net/http"
	"testing"

	"github.com/tandem-social/tandem/internal/call"
)

func initiateCall(t *testing.T, f *fixture, conversationID, initiator string) CallResponse {
	t.Helper()
	w := f.do(t, http.MethodPost, "/conversations/"+conversationID+"/calls", initiator,
		InitiateCallRequest{Type: "audio"})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate call: status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp CallResponse
	decode(t, w, &resp)
	return resp
}

func TestCallLifecycle(t *testing.T) {
	f := newFixture(t)
	conv := createDirect(t, f, "alice", "bob")

	resp := initiateCall(t, f, conv.ID, "alice")
	if resp.Call.Status != call.StatusInitiated {
		t.Errorf("status after initiate = %q, want initiated", resp.Call.Status)
	}
	if resp.Token == "" {
		t.Error("initiator got no session token")
	}
	if len(resp.Participants) != 2 {
		t.Errorf("len(participants) = %d, want 2", len(resp.Participants))
	}
	// Tokens belong to their holders and never appear in the shared view.
	for _, p := range resp.Participants {
		if p.Token != "" {
			t.Errorf("participant %s token leaked in response", p.UserID)
		}
	}

	w := f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/answer", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("answer: status = %d, body = %s", w.Code, w.Body.String())
	}
	var answered CallResponse
	decode(t, w, &answered)
	if answered.Call.Status != call.StatusConnected {
		t.Errorf("status after answer = %q, want connected", answered.Call.Status)
	}
	if answered.Token == "" {
		t.Error("answering participant got no session token")
	}

	w = f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/end", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end: status = %d, body = %s", w.Code, w.Body.String())
	}
	var ended CallResponse
	decode(t, w, &ended)
	if ended.Call.Status != call.StatusEnded {
		t.Errorf("status after end = %q, want ended", ended.Call.Status)
	}

	// Terminal calls accept no further transitions.
	if w := f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/answer", "bob", nil); w.Code != http.StatusConflict {
		t.Errorf("answer after end: status = %d, want 409", w.Code)
	}
}

func TestCallRejectToMissed(t *testing.T) {
	f := newFixture(t)
	conv := createDirect(t, f, "alice", "bob")
	resp := initiateCall(t, f, conv.ID, "alice")

	w := f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/reject", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reject: status = %d, body = %s", w.Code, w.Body.String())
	}
	var rejected CallResponse
	decode(t, w, &rejected)
	if rejected.Call.Status != call.StatusMissed {
		t.Errorf("status after sole invitee rejects = %q, want missed", rejected.Call.Status)
	}
}

func TestCallGetParticipantOnly(t *testing.T) {
	f := newFixture(t)
	conv := createDirect(t, f, "alice", "bob")
	resp := initiateCall(t, f, conv.ID, "alice")

	if w := f.do(t, http.MethodGet, "/calls/"+resp.Call.ID, "bob", nil); w.Code != http.StatusOK {
		t.Errorf("participant get: status = %d", w.Code)
	}
	w := f.do(t, http.MethodGet, "/calls/"+resp.Call.ID, "mallory", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider get: status = %d, want 403", w.Code)
	}
	if got := errorCode(t, w); got != ErrCodeForbidden {
		t.Errorf("error code = %q", got)
	}
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)
	conv := createDirect(t, f, "alice", "bob")

	w := f.do(t, http.MethodPost, "/conversations/"+conv.ID+"/calls", "alice",
		InitiateCallRequest{Type: "hologram"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad call type: status = %d, want 400", w.Code)
	}

	// Only one active call per conversation.
	initiateCall(t, f, conv.ID, "alice")
	w = f.do(t, http.MethodPost, "/conversations/"+conv.ID+"/calls", "bob",
		InitiateCallRequest{Type: "audio"})
	if w.Code != http.StatusConflict {
		t.Errorf("second active call: status = %d, want 409", w.Code)
	}
}

func TestKick(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/conversations", "alice",
		CreateConversationRequest{Type: "group", Title: "trio", MemberIDs: []string{"bob", "carol"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("create group: status = %d", w.Code)
	}
	var conv struct {
		ID string `json:"id"`
	}
	decode(t, w, &conv)

	resp := initiateCall(t, f, conv.ID, "alice")

	w = f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/kick", "bob",
		KickRequest{TargetUserID: "carol"})
	if w.Code != http.StatusForbidden {
		t.Errorf("non-initiator kick: status = %d, want 403", w.Code)
	}

	// Self-kick is an authorization failure like any other bad kick actor.
	w = f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/kick", "alice",
		KickRequest{TargetUserID: "alice"})
	if w.Code != http.StatusForbidden {
		t.Errorf("self kick: status = %d, want 403", w.Code)
	}

	// Only joined participants can be kicked.
	w = f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/kick", "alice",
		KickRequest{TargetUserID: "carol"})
	if w.Code != http.StatusConflict {
		t.Errorf("kick invited participant: status = %d, want 409", w.Code)
	}

	if w := f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/answer", "carol", nil); w.Code != http.StatusOK {
		t.Fatalf("carol answer: status = %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/kick", "alice",
		KickRequest{TargetUserID: "carol"})
	if w.Code != http.StatusOK {
		t.Fatalf("kick: status = %d, body = %s", w.Code, w.Body.String())
	}
	var kicked CallResponse
	decode(t, w, &kicked)
	for _, p := range kicked.Participants {
		if p.UserID == "carol" && p.Status != call.ParticipantKicked {
			t.Errorf("carol status = %q, want kicked", p.Status)
		}
	}

	w = f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/kick", "alice", KickRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing target: status = %d, want 400", w.Code)
	}
}

func TestCallHistory(t *testing.T) {
	f := newFixture(t)
	conv := createDirect(t, f, "alice", "bob")

	resp := initiateCall(t, f, conv.ID, "alice")
	f.do(t, http.MethodPost, "/calls/"+resp.Call.ID+"/end", "alice", nil)

	w := f.do(t, http.MethodGet, "/conversations/"+conv.ID+"/calls", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: status = %d, body = %s", w.Code, w.Body.String())
	}
	var hist struct {
		Calls []*call.Call `json:"calls"`
	}
	decode(t, w, &hist)
	if len(hist.Calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(hist.Calls))
	}
	if hist.Calls[0].ID != resp.Call.ID {
		t.Errorf("call ID = %q, want %q", hist.Calls[0].ID, resp.Call.ID)
	}
}
