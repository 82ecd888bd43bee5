package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"million-dialogue/internal/app"
	"million-dialogue/internal/domain"
)

// Authenticator validates bearer tokens.
type Authenticator interface {
	Authenticate(token string) (domain.Identity, error)
}

// Rooms is the room use-case surface the gateway dispatches to.
type Rooms interface {
	CreateRoom(ctx context.Context, owner domain.Identity, sink app.Sink, title string, visibility domain.Visibility, settings domain.RoomSettings) (domain.RoomSummary, error)
	JoinRoom(ctx context.Context, roomID string, identity domain.Identity, sink app.Sink) (domain.RoomSummary, error)
	LeaveRoom(ctx context.Context, roomID, userID, connectionID string) error
	Disconnect(ctx context.Context, roomID, userID, connectionID string)
	StartRound(ctx context.Context, roomID, userID string) (domain.Round, error)
	CancelRound(ctx context.Context, roomID, userID string) error
	SubmitAnswer(ctx context.Context, roomID, userID, questionID string, chosenIndex int, timeTakenMs int64) error
	ListRooms(ctx context.Context) []domain.RoomSummary
	GetRoom(ctx context.Context, roomID string) (domain.RoomSummary, error)
}

var _ Rooms = (*app.RoomService)(nil)

// Dispatcher maps action envelopes to room use cases and always produces
// exactly one Response per envelope.
type Dispatcher struct {
	rooms  Rooms
	auth   Authenticator
	logger *slog.Logger
}

func NewDispatcher(rooms Rooms, auth Authenticator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		rooms:  rooms,
		auth:   auth,
		logger: logger.With(slog.String("component", "gateway")),
	}
}

// Handle decodes and dispatches one inbound frame.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, raw []byte) (resp Response) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return failure("", fmt.Errorf("%w: %v", errInvalidPayload, err))
	}

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("action panicked",
				slog.String("action", env.Action),
				slog.String("connection", s.ConnectionID()),
				slog.String("panic", fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())),
			)
			resp = failure(env.CorrelationID, errInternal)
		}
	}()

	data, err := d.dispatch(ctx, s, env)
	if err != nil {
		body := toErrorBody(err)
		if body.Kind == KindInternal {
			d.logger.Error("action failed", slog.String("action", env.Action), slog.Any("error", err))
		}
		return failure(env.CorrelationID, err)
	}
	return success(env.CorrelationID, data)
}

func (d *Dispatcher) dispatch(ctx context.Context, s *Session, env Envelope) (any, error) {
	if env.Action == ActionAuthenticate {
		return d.authenticate(s, env.Payload)
	}

	identity, authenticated := s.Identity()
	if !authenticated {
		return nil, domain.ErrUnauthenticated
	}

	switch env.Action {
	case ActionCreateRoom:
		var p createRoomPayload
		if err := decode(env.Payload, &p); err != nil {
			return nil, err
		}
		d.leaveCurrent(ctx, s, identity, "")
		summary, err := d.rooms.CreateRoom(ctx, identity, s, p.Title, p.Type, p.Settings)
		if err != nil {
			return nil, err
		}
		s.setRoom(summary.ID)
		return summary, nil

	case ActionJoinRoom:
		var p roomPayload
		if err := decodeRoom(env.Payload, &p); err != nil {
			return nil, err
		}
		d.leaveCurrent(ctx, s, identity, p.RoomID)
		summary, err := d.rooms.JoinRoom(ctx, p.RoomID, identity, s)
		if err != nil {
			return nil, err
		}
		s.setRoom(summary.ID)
		return summary, nil

	case ActionLeaveRoom:
		var p roomPayload
		if err := decodeRoom(env.Payload, &p); err != nil {
			return nil, err
		}
		if err := d.rooms.LeaveRoom(ctx, p.RoomID, identity.UserID, s.ConnectionID()); err != nil {
			return nil, err
		}
		s.clearRoom(normalizeRoomID(p.RoomID))
		return nil, nil

	case ActionStartRound:
		var p roomPayload
		if err := decodeRoom(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.rooms.StartRound(ctx, p.RoomID, identity.UserID)

	case ActionCancelRound:
		var p roomPayload
		if err := decodeRoom(env.Payload, &p); err != nil {
			return nil, err
		}
		return nil, d.rooms.CancelRound(ctx, p.RoomID, identity.UserID)

	case ActionSubmitAnswer:
		var p submitAnswerPayload
		if err := decode(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" || p.QuestionID == "" || p.ChosenIndex == nil {
			return nil, fmt.Errorf("%w: roomId, questionId and chosenIndex are required", errInvalidPayload)
		}
		return nil, d.rooms.SubmitAnswer(ctx, p.RoomID, identity.UserID, p.QuestionID, *p.ChosenIndex, p.TimeTaken)

	case ActionListRooms:
		return d.rooms.ListRooms(ctx), nil

	case ActionGetRoom:
		var p roomPayload
		if err := decodeRoom(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.rooms.GetRoom(ctx, p.RoomID)

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownAction, env.Action)
	}
}

func (d *Dispatcher) authenticate(s *Session, raw json.RawMessage) (any, error) {
	var p authenticatePayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	identity, err := d.auth.Authenticate(p.Token)
	if err != nil {
		return nil, err
	}
	if current, ok := s.Identity(); ok && current.UserID != identity.UserID {
		return nil, fmt.Errorf("%w: connection is bound to another user", domain.ErrUnauthenticated)
	}
	s.Authenticate(identity)
	return authenticatedData{ConnectionID: s.ConnectionID(), User: identity}, nil
}

// leaveCurrent makes the player leave the room the session is bound to
// unless it is the room being joined.
func (d *Dispatcher) leaveCurrent(ctx context.Context, s *Session, identity domain.Identity, nextRoomID string) {
	current := s.RoomID()
	if current == "" || current == normalizeRoomID(nextRoomID) {
		return
	}
	if err := d.rooms.LeaveRoom(ctx, current, identity.UserID, s.ConnectionID()); err != nil {
		d.logger.Debug("implicit leave failed", slog.String("room", current), slog.Any("error", err))
	}
	s.clearRoom(current)
}

// Disconnect releases the connection's room binding and closes the session.
func (d *Dispatcher) Disconnect(ctx context.Context, s *Session) {
	defer s.Close()
	identity, ok := s.Identity()
	if !ok {
		return
	}
	if roomID := s.RoomID(); roomID != "" {
		d.rooms.Disconnect(ctx, roomID, identity.UserID, s.ConnectionID())
		s.clearRoom(roomID)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}

func decodeRoom(raw json.RawMessage, p *roomPayload) error {
	if err := decode(raw, p); err != nil {
		return err
	}
	if strings.TrimSpace(p.RoomID) == "" {
		return fmt.Errorf("%w: roomId is required", errInvalidPayload)
	}
	return nil
}

func normalizeRoomID(roomID string) string {
	return strings.ToUpper(strings.TrimSpace(roomID))
}
