// Package stream provides repositories for stream and viewer persistence.
package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors for stream repository operations.
var (
	ErrStreamNotFound = errors.New("stream not found")

	// ErrViewerActive is returned when joining while an active viewer row
	// already exists for the (stream, user) pair.
	ErrViewerActive = errors.New("viewer already active in stream")

	// ErrStreamState is returned when a lifecycle mutation is invalid for
	// the stream's current status.
	ErrStreamState = errors.New("stream status does not allow this transition")
)

// Repository defines stream persistence. Viewer mutations adjust the
// denormalized CurrentViewers counter in the same atomic step as the row
// change so the counter never drifts under concurrent join/leave.
type Repository interface {
	// CreateStream persists a new stream in the upcoming status.
	CreateStream(ctx context.Context, s *Stream) error

	// GetStream retrieves a stream by ID.
	GetStream(ctx context.Context, id string) (*Stream, error)

	// SetLive transitions upcoming -> live, stamping started_at.
	// Returns ErrStreamState for any other source status.
	SetLive(ctx context.Context, id string, now time.Time) (*Stream, error)

	// SetEnded transitions live -> ended, stamping ended_at and closing
	// every active viewer row. Returns ErrStreamState unless live.
	SetEnded(ctx context.Context, id string, now time.Time) (*Stream, error)

	// AddViewer inserts an active viewer row and increments
	// CurrentViewers atomically. Returns ErrViewerActive if the user
	// already has an active row.
	AddViewer(ctx context.Context, v *Viewer) (*Stream, error)

	// RemoveViewer closes the user's active viewer row and decrements
	// CurrentViewers. Idempotent: returns (false, nil) when no active
	// row exists.
	RemoveViewer(ctx context.Context, streamID, userID string, now time.Time) (bool, *Stream, error)

	// FirstJoinedAt returns the joined_at of the user's earliest viewer
	// row on the stream, or nil if the user never joined.
	FirstJoinedAt(ctx context.Context, streamID, userID string) (*time.Time, error)

	// ActiveViewers returns active viewer rows ordered by joined_at,
	// paginated by limit/offset.
	ActiveViewers(ctx context.Context, streamID string, limit, offset int) ([]*Viewer, error)

	// ListLive returns live streams newest-first.
	ListLive(ctx context.Context, limit int) ([]*Stream, error)
}

// streamRecord groups a stream with its viewer rows under one lock.
type streamRecord struct {
	mu      sync.Mutex
	stream  *Stream
	viewers []*Viewer
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe: a per-stream mutex makes each viewer mutation and its
// counter update one atomic step.
type InMemoryRepository struct {
	mu      sync.RWMutex
	streams map[string]*streamRecord
}

// NewInMemoryRepository creates an empty in-memory stream repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{streams: make(map[string]*streamRecord)}
}

// CreateStream persists a new stream.
func (r *InMemoryRepository) CreateStream(ctx context.Context, s *Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	streamCopy := *s
	r.streams[s.ID] = &streamRecord{stream: &streamCopy}
	return nil
}

// GetStream retrieves a stream by ID.
func (r *InMemoryRepository) GetStream(ctx context.Context, id string) (*Stream, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	streamCopy := *rec.stream
	return &streamCopy, nil
}

// SetLive transitions upcoming -> live.
func (r *InMemoryRepository) SetLive(ctx context.Context, id string, now time.Time) (*Stream, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.stream.Status != StatusUpcoming {
		return nil, ErrStreamState
	}
	rec.stream.Status = StatusLive
	t := now
	rec.stream.StartedAt = &t

	streamCopy := *rec.stream
	return &streamCopy, nil
}

// SetEnded transitions live -> ended and closes active viewer rows.
func (r *InMemoryRepository) SetEnded(ctx context.Context, id string, now time.Time) (*Stream, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.stream.Status != StatusLive {
		return nil, ErrStreamState
	}
	rec.stream.Status = StatusEnded
	t := now
	rec.stream.EndedAt = &t

	for _, v := range rec.viewers {
		if v.Active() {
			lt := now
			v.LeftAt = &lt
		}
	}
	rec.stream.CurrentViewers = 0

	streamCopy := *rec.stream
	return &streamCopy, nil
}

// AddViewer inserts an active viewer row and increments the counter.
func (r *InMemoryRepository) AddViewer(ctx context.Context, v *Viewer) (*Stream, error) {
	rec, err := r.record(v.StreamID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	for _, existing := range rec.viewers {
		if existing.UserID == v.UserID && existing.Active() {
			return nil, ErrViewerActive
		}
	}

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	viewerCopy := *v
	rec.viewers = append(rec.viewers, &viewerCopy)
	rec.stream.CurrentViewers++

	streamCopy := *rec.stream
	return &streamCopy, nil
}

// RemoveViewer closes the active viewer row and decrements the counter.
func (r *InMemoryRepository) RemoveViewer(ctx context.Context, streamID, userID string, now time.Time) (bool, *Stream, error) {
	rec, err := r.record(streamID)
	if err != nil {
		return false, nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	for _, v := range rec.viewers {
		if v.UserID == userID && v.Active() {
			t := now
			v.LeftAt = &t
			if rec.stream.CurrentViewers > 0 {
				rec.stream.CurrentViewers--
			}
			streamCopy := *rec.stream
			return true, &streamCopy, nil
		}
	}

	streamCopy := *rec.stream
	return false, &streamCopy, nil
}

// FirstJoinedAt returns the earliest joined_at for (stream, user).
func (r *InMemoryRepository) FirstJoinedAt(ctx context.Context, streamID, userID string) (*time.Time, error) {
	rec, err := r.record(streamID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	var first *time.Time
	for _, v := range rec.viewers {
		if v.UserID != userID {
			continue
		}
		if first == nil || v.JoinedAt.Before(*first) {
			t := v.JoinedAt
			first = &t
		}
	}
	return first, nil
}

// ActiveViewers returns active viewer rows ordered by joined_at.
func (r *InMemoryRepository) ActiveViewers(ctx context.Context, streamID string, limit, offset int) ([]*Viewer, error) {
	rec, err := r.record(streamID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	var active []*Viewer
	for _, v := range rec.viewers {
		if v.Active() {
			viewerCopy := *v
			active = append(active, &viewerCopy)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].JoinedAt.Before(active[j].JoinedAt)
	})

	if offset >= len(active) {
		return []*Viewer{}, nil
	}
	active = active[offset:]
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

// ListLive returns live streams newest-first.
func (r *InMemoryRepository) ListLive(ctx context.Context, limit int) ([]*Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var live []*Stream
	for _, rec := range r.streams {
		rec.mu.Lock()
		if rec.stream.Status == StatusLive {
			streamCopy := *rec.stream
			live = append(live, &streamCopy)
		}
		rec.mu.Unlock()
	}
	sort.Slice(live, func(i, j int) bool {
		si, sj := live[i].StartedAt, live[j].StartedAt
		if si == nil || sj == nil {
			return live[i].ID < live[j].ID
		}
		return si.After(*sj)
	})
	if limit > 0 && len(live) > limit {
		live = live[:limit]
	}
	return live, nil
}

func (r *InMemoryRepository) record(id string) (*streamRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.streams[id]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return rec, nil
}
