// Package rtc provides room control operations against the transport service.
package rtc

import (
	"context"
	"errors"
	"fmt"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

var (
	// ErrRoomServiceNotConfigured is returned when room operations are
	// attempted without transport credentials.
	ErrRoomServiceNotConfigured = errors.New("rtc room service not configured")

	// ErrRoomNotFound is returned when a requested room does not exist.
	ErrRoomNotFound = errors.New("room not found")
)

// RoomService manages transport rooms for calls and streams.
type RoomService struct {
	roomClient *lksdk.RoomServiceClient
}

// NewRoomService creates a RoomService. Returns nil if any credential is
// empty; callers treat a nil service as "room control unavailable" and the
// state machine still operates (clients connect with issued tokens only).
func NewRoomService(url, apiKey, apiSecret string) *RoomService {
	if url == "" || apiKey == "" || apiSecret == "" {
		return nil
	}
	return &RoomService{
		roomClient: lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
	}
}

// CreateRoom creates a transport room for a channel. emptyTimeout is the
// seconds after which an empty room auto-closes (0 = never); maxParticipants
// 0 means unlimited.
func (s *RoomService) CreateRoom(ctx context.Context, channelName string, emptyTimeout, maxParticipants uint32) (*livekit.Room, error) {
	if s == nil || s.roomClient == nil {
		return nil, ErrRoomServiceNotConfigured
	}

	room, err := s.roomClient.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            channelName,
		EmptyTimeout:    emptyTimeout,
		MaxParticipants: maxParticipants,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

// DeleteRoom deletes a room, disconnecting all participants.
func (s *RoomService) DeleteRoom(ctx context.Context, channelName string) error {
	if s == nil || s.roomClient == nil {
		return ErrRoomServiceNotConfigured
	}

	if _, err := s.roomClient.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: channelName}); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// GetRoom retrieves a room by channel name.
// Returns ErrRoomNotFound if the room does not exist.
func (s *RoomService) GetRoom(ctx context.Context, channelName string) (*livekit.Room, error) {
	if s == nil || s.roomClient == nil {
		return nil, ErrRoomServiceNotConfigured
	}

	resp, err := s.roomClient.ListRooms(ctx, &livekit.ListRoomsRequest{
		Names: []string{channelName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if len(resp.Rooms) == 0 {
		return nil, ErrRoomNotFound
	}
	return resp.Rooms[0], nil
}

// RemoveParticipant removes (kicks) a participant from a room.
func (s *RoomService) RemoveParticipant(ctx context.Context, channelName, identity string) error {
	if s == nil || s.roomClient == nil {
		return ErrRoomServiceNotConfigured
	}

	_, err := s.roomClient.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     channelName,
		Identity: identity,
	})
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return nil
}

// MuteParticipantTrack mutes or unmutes a participant's published track.
func (s *RoomService) MuteParticipantTrack(ctx context.Context, channelName, identity, trackSID string, muted bool) error {
	if s == nil || s.roomClient == nil {
		return ErrRoomServiceNotConfigured
	}

	_, err := s.roomClient.MutePublishedTrack(ctx, &livekit.MuteRoomTrackRequest{
		Room:     channelName,
		Identity: identity,
		TrackSid: trackSID,
		Muted:    muted,
	})
	if err != nil {
		return fmt.Errorf("failed to mute track: %w", err)
	}
	return nil
}

// ListParticipants lists all participants currently in a room.
func (s *RoomService) ListParticipants(ctx context.Context, channelName string) ([]*livekit.ParticipantInfo, error) {
	if s == nil || s.roomClient == nil {
		return nil, ErrRoomServiceNotConfigured
	}

	resp, err := s.roomClient.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: channelName})
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return resp.Participants, nil
}
