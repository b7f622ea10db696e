package call

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Common errors for call repository operations.
var (
	ErrCallNotFound = errors.New("call not found")

	// ErrActiveCallExists is returned when a conversation already has a
	// call in a non-terminal status.
	ErrActiveCallExists = errors.New("conversation already has an active call")
)

// Repository defines call persistence with the locking discipline the state
// machine requires: every multi-row transition runs inside Transition, which
// holds exclusive access to the call and its participants so concurrent
// end/reject requests converge by counting rows, never by arrival order.
type Repository interface {
	// CreateCall atomically persists a call and its participant rows.
	// Returns ErrActiveCallExists if the conversation already has a call
	// in a non-terminal status.
	CreateCall(ctx context.Context, c *Call, participants []*Participant) error

	// GetCall retrieves a call by ID.
	GetCall(ctx context.Context, id string) (*Call, error)

	// GetParticipants returns all participant rows for a call, ordered by
	// invited_at ascending.
	GetParticipants(ctx context.Context, callID string) ([]*Participant, error)

	// ActiveCallForConversation returns the conversation's non-terminal
	// call, or nil if there is none.
	ActiveCallForConversation(ctx context.Context, conversationID string) (*Call, error)

	// ListCallsForConversation returns calls newest-first. beforeID, when
	// non-empty, restricts to calls started before the named call.
	ListCallsForConversation(ctx context.Context, conversationID, beforeID string, limit int) ([]*Call, error)

	// Transition loads the call and its participants under an exclusive
	// lock, applies fn, and persists every mutation atomically when fn
	// returns nil. When fn returns an error nothing is written and the
	// error is passed through.
	Transition(ctx context.Context, callID string, fn func(c *Call, participants []*Participant) error) (*Call, []*Participant, error)

	// StaleInitiatedCallIDs returns calls still in the initiated status
	// whose started_at is older than the cutoff. Used by the ring sweep.
	StaleInitiatedCallIDs(ctx context.Context, cutoff int64) ([]string, error)
}

// callRecord groups a call with its participants under one lock.
type callRecord struct {
	mu           sync.Mutex
	call         *Call
	participants []*Participant
}

// InMemoryRepository is an in-memory implementation of Repository.
// Transitions hold a per-call mutex, giving the same mutual exclusion a
// SELECT ... FOR UPDATE transaction provides in the Postgres implementation.
type InMemoryRepository struct {
	mu     sync.RWMutex
	calls  map[string]*callRecord // call ID -> record
	byConv map[string][]string    // conversation ID -> call IDs, insertion order
}

// NewInMemoryRepository creates an empty in-memory call repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		calls:  make(map[string]*callRecord),
		byConv: make(map[string][]string),
	}
}

// CreateCall atomically persists a call and its participant rows.
func (r *InMemoryRepository) CreateCall(ctx context.Context, c *Call, participants []*Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byConv[c.ConversationID] {
		if rec, ok := r.calls[id]; ok && !rec.call.Terminal() {
			return ErrActiveCallExists
		}
	}

	callCopy := *c
	partsCopy := make([]*Participant, len(participants))
	for i, p := range participants {
		pc := *p
		partsCopy[i] = &pc
	}

	r.calls[c.ID] = &callRecord{call: &callCopy, participants: partsCopy}
	r.byConv[c.ConversationID] = append(r.byConv[c.ConversationID], c.ID)
	return nil
}

// GetCall retrieves a call by ID.
func (r *InMemoryRepository) GetCall(ctx context.Context, id string) (*Call, error) {
	r.mu.RLock()
	rec, ok := r.calls[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrCallNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	callCopy := *rec.call
	return &callCopy, nil
}

// GetParticipants returns all participant rows for a call.
func (r *InMemoryRepository) GetParticipants(ctx context.Context, callID string) ([]*Participant, error) {
	r.mu.RLock()
	rec, ok := r.calls[callID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrCallNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return copyParticipants(rec.participants), nil
}

// ActiveCallForConversation returns the conversation's non-terminal call.
func (r *InMemoryRepository) ActiveCallForConversation(ctx context.Context, conversationID string) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.byConv[conversationID] {
		rec, ok := r.calls[id]
		if !ok {
			continue
		}
		rec.mu.Lock()
		terminal := rec.call.Terminal()
		callCopy := *rec.call
		rec.mu.Unlock()
		if !terminal {
			return &callCopy, nil
		}
	}
	return nil, nil
}

// ListCallsForConversation returns calls newest-first.
func (r *InMemoryRepository) ListCallsForConversation(ctx context.Context, conversationID, beforeID string, limit int) ([]*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Call
	for _, id := range r.byConv[conversationID] {
		rec, ok := r.calls[id]
		if !ok {
			continue
		}
		rec.mu.Lock()
		callCopy := *rec.call
		rec.mu.Unlock()
		result = append(result, &callCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if beforeID != "" {
		cut := len(result)
		for i, c := range result {
			if c.ID == beforeID {
				cut = i + 1
				break
			}
		}
		result = result[cut:]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Transition applies fn to the call under its lock and keeps the mutations
// when fn returns nil. On error the record is restored from the pre-image.
func (r *InMemoryRepository) Transition(ctx context.Context, callID string, fn func(c *Call, participants []*Participant) error) (*Call, []*Participant, error) {
	r.mu.RLock()
	rec, ok := r.calls[callID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, ErrCallNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	// Work on copies so a failed transition leaves the record untouched,
	// mirroring a rolled-back transaction.
	callCopy := *rec.call
	partsCopy := copyParticipants(rec.participants)

	if err := fn(&callCopy, partsCopy); err != nil {
		return nil, nil, err
	}

	rec.call = &callCopy
	rec.participants = partsCopy

	resultCall := callCopy
	return &resultCall, copyParticipants(partsCopy), nil
}

// StaleInitiatedCallIDs returns initiated calls older than the unix cutoff.
func (r *InMemoryRepository) StaleInitiatedCallIDs(ctx context.Context, cutoff int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, rec := range r.calls {
		rec.mu.Lock()
		if rec.call.Status == StatusInitiated && rec.call.StartedAt.Unix() < cutoff {
			ids = append(ids, id)
		}
		rec.mu.Unlock()
	}
	sort.Strings(ids)
	return ids, nil
}

func copyParticipants(parts []*Participant) []*Participant {
	out := make([]*Participant, len(parts))
	for i, p := range parts {
		pc := *p
		out[i] = &pc
	}
	return out
}
