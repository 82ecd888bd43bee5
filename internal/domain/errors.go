package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room id is unknown or already evicted.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull is returned when a room is at capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrRoomClosed is returned for operations on a closed room.
	ErrRoomClosed = errors.New("room is closed")
	// ErrNotInRoom is returned when a user acts on a room they have not joined.
	ErrNotInRoom = errors.New("player is not in room")
	// ErrNotHost is returned when a host-only action is requested by someone else.
	ErrNotHost = errors.New("player is not the host")
	// ErrRoundAlreadyActive is returned when starting a round while one is running.
	ErrRoundAlreadyActive = errors.New("round already active")
	// ErrNoActiveRound is returned when cancelling a round that is not running.
	ErrNoActiveRound = errors.New("no active round")
	// ErrNoActiveQuestion is returned for answers outside the open question window.
	ErrNoActiveQuestion = errors.New("no active question")
	// ErrAlreadyAnswered is returned for a second answer to the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrInvalidChoice is returned when the chosen option index is out of range.
	ErrInvalidChoice = errors.New("invalid choice")
	// ErrInvalidSettings is returned for malformed room settings.
	ErrInvalidSettings = errors.New("invalid room settings")
	// ErrQuestionSetNotFound indicates the question set could not be loaded.
	ErrQuestionSetNotFound = errors.New("question set not found")
	// ErrInvalidQuestionSet indicates question content that cannot be played.
	ErrInvalidQuestionSet = errors.New("invalid question set")

	// ErrUnauthenticated is returned when a connection has no valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")
)
