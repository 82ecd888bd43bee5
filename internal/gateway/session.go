package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"million-dialogue/internal/app"
	"million-dialogue/internal/domain"
)

// Session is the gateway state of one live connection. Room events land in
// a bounded queue that drops the oldest entry when full, so a slow reader
// never blocks a room. Replies use their own queue and are never dropped.
// Channels are never closed; readers select on Done.
type Session struct {
	id     string
	logger *slog.Logger

	events  chan EventMessage
	replies chan Response
	done    chan struct{}
	once    sync.Once
	sendMu  sync.Mutex
	dropped atomic.Uint64

	mu       sync.Mutex
	identity *domain.Identity
	roomID   string
}

// NewSession creates a session with the given queue sizes.
func NewSession(eventBuffer, replyBuffer int, logger *slog.Logger) *Session {
	if eventBuffer < 1 {
		eventBuffer = 1
	}
	if replyBuffer < 1 {
		replyBuffer = 1
	}
	id := uuid.NewString()
	return &Session{
		id:      id,
		logger:  logger.With(slog.String("connection", id)),
		events:  make(chan EventMessage, eventBuffer),
		replies: make(chan Response, replyBuffer),
		done:    make(chan struct{}),
	}
}

// ConnectionID implements app.Sink.
func (s *Session) ConnectionID() string { return s.id }

// Deliver implements app.Sink. It never blocks.
func (s *Session) Deliver(event domain.Event) {
	if event.Type == domain.EventRoomClosed {
		s.mu.Lock()
		if s.roomID == event.RoomID {
			s.roomID = ""
		}
		s.mu.Unlock()
	}

	select {
	case <-s.done:
		return
	default:
	}

	msg := newEventMessage(event)
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for {
		select {
		case s.events <- msg:
			return
		default:
		}
		select {
		case <-s.events:
			n := s.dropped.Add(1)
			s.logger.Warn("dropping event for slow connection",
				slog.String("room", event.RoomID),
				slog.Uint64("dropped", n),
			)
		default:
		}
	}
}

// Reply queues an ack for the writer. It blocks until there is room or
// the session is closed.
func (s *Session) Reply(ctx context.Context, resp Response) bool {
	select {
	case s.replies <- resp:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Events is the queue of room events to write.
func (s *Session) Events() <-chan EventMessage { return s.events }

// Replies is the queue of acks to write.
func (s *Session) Replies() <-chan Response { return s.replies }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close marks the session finished. It is safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
}

// Dropped reports how many events were discarded for this connection.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// Identity returns the authenticated user, if any.
func (s *Session) Identity() (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return domain.Identity{}, false
	}
	return *s.identity, true
}

// Authenticate binds the session to a user.
func (s *Session) Authenticate(identity domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &identity
}

// RoomID returns the room the session is currently bound to.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) setRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
}

// clearRoom unbinds the session only if it is still bound to roomID.
func (s *Session) clearRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID == roomID {
		s.roomID = ""
	}
}

var _ app.Sink = (*Session)(nil)
