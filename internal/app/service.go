package app

import (
	"context"
	"errors"
	"fmt"

	"million-dialogue/internal/domain"
)

// QuestionBank loads question sets (from cache/backing store).
type QuestionBank interface {
	GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// RoomService contains the room use cases invoked by the gateway.
type RoomService struct {
	registry *Registry
	bank     QuestionBank
}

func NewRoomService(registry *Registry, bank QuestionBank) *RoomService {
	return &RoomService{registry: registry, bank: bank}
}

// Registry exposes the underlying registry for lifecycle management.
func (s *RoomService) Registry() *Registry {
	return s.registry
}

// CreateRoom loads the requested question set, creates the room and joins
// the owner as its first player (and therefore its host).
func (s *RoomService) CreateRoom(ctx context.Context, owner domain.Identity, sink Sink, title string, visibility domain.Visibility, settings domain.RoomSettings) (domain.RoomSummary, error) {
	settings, err := s.registry.NormalizeSettings(settings)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	if settings.QuestionSetID == "" {
		return domain.RoomSummary{}, fmt.Errorf("%w: question set is required", domain.ErrInvalidSettings)
	}

	set, err := s.bank.GetQuestionSet(ctx, settings.QuestionSetID)
	if err != nil {
		if errors.Is(err, domain.ErrQuestionSetNotFound) || errors.Is(err, domain.ErrInvalidQuestionSet) {
			return domain.RoomSummary{}, fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
		}
		return domain.RoomSummary{}, err
	}

	room, err := s.registry.CreateRoom(ctx, owner.UserID, title, visibility, settings, set)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	if _, _, err := room.Join(owner, sink); err != nil {
		return domain.RoomSummary{}, err
	}
	s.registry.Touch(ctx, room)
	return room.Summary(), nil
}

// JoinRoom admits a user to an existing room.
func (s *RoomService) JoinRoom(ctx context.Context, roomID string, identity domain.Identity, sink Sink) (domain.RoomSummary, error) {
	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	if _, _, err := room.Join(identity, sink); err != nil {
		return domain.RoomSummary{}, err
	}
	s.registry.Touch(ctx, room)
	return room.Summary(), nil
}

// LeaveRoom removes a user from a room.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID, connectionID string) error {
	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		return err
	}
	if err := room.LeaveFrom(userID, connectionID); err != nil {
		return err
	}
	s.registry.Touch(ctx, room)
	return nil
}

// Disconnect drops the player if the closing connection is still their binding.
func (s *RoomService) Disconnect(ctx context.Context, roomID, userID, connectionID string) {
	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		return
	}
	if room.Disconnect(userID, connectionID) {
		s.registry.Touch(ctx, room)
	}
}

// StartRound starts a round on behalf of the host.
func (s *RoomService) StartRound(_ context.Context, roomID, userID string) (domain.Round, error) {
	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		return domain.Round{}, err
	}
	return room.StartRound(userID)
}

// CancelRound aborts the running round on behalf of the host.
func (s *RoomService) CancelRound(_ context.Context, roomID, userID string) error {
	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		return err
	}
	return room.CancelRound(userID)
}

// SubmitAnswer records an answer for the currently open question.
func (s *RoomService) SubmitAnswer(_ context.Context, roomID, userID, questionID string, chosenIndex int, timeTakenMs int64) error {
	room, err := s.registry.GetRoom(roomID)
	if err != nil {
		return err
	}
	return room.SubmitAnswer(userID, questionID, chosenIndex, timeTakenMs)
}

// ListRooms returns public rooms open for discovery.
func (s *RoomService) ListRooms(_ context.Context) []domain.RoomSummary {
	return s.registry.ListPublic()
}

// GetRoom returns a snapshot of a room, including rooms only known to the
// store's directory.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (domain.RoomSummary, error) {
	return s.registry.Lookup(ctx, roomID)
}
