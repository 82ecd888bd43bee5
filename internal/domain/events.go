package domain

import "time"

// EventType names a room-originated event pushed to members.
type EventType string

const (
	EventRoomCreated        EventType = "room.created"
	EventRoomJoined         EventType = "room.joined"
	EventRoomLeft           EventType = "room.left"
	EventRoomClosed         EventType = "room.closed"
	EventRoundStarted       EventType = "round.started"
	EventQuestionSent       EventType = "question.sent"
	EventQuestionResult     EventType = "question.result"
	EventLeaderboardUpdated EventType = "leaderboard.updated"
	EventRoundFinished      EventType = "round.finished"
)

// Event is produced by a room in order; Seq increases by one per room.
type Event struct {
	Type    EventType
	RoomID  string
	Seq     uint64
	At      time.Time
	Payload any
}

// RoomCreatedPayload is sent to the creator when the room is opened.
type RoomCreatedPayload struct {
	Room RoomSummary `json:"room"`
}

// RoomJoinedPayload announces a new or reconnected player.
type RoomJoinedPayload struct {
	Player           Player `json:"player"`
	ParticipantCount int    `json:"participantCount"`
	Reconnected      bool   `json:"reconnected"`
}

// RoomLeftPayload announces a departure and the resulting host.
type RoomLeftPayload struct {
	UserID           string `json:"userId"`
	ParticipantCount int    `json:"participantCount"`
	HostUserID       string `json:"hostUserId"`
	Reason           string `json:"reason"`
}

// RoomClosedPayload tells remaining members the room is gone.
type RoomClosedPayload struct {
	Reason string `json:"reason"`
}

// RoundStartedPayload carries the new round.
type RoundStartedPayload struct {
	Round Round `json:"round"`
}

// QuestionSentPayload opens a question window. The correct index is never included.
type QuestionSentPayload struct {
	RoundID        string         `json:"roundId"`
	Question       QuestionPrompt `json:"question"`
	TimeLimit      int            `json:"timeLimit"`
	OrderIndex     int            `json:"orderIndex"`
	TotalQuestions int            `json:"totalQuestions"`
	Deadline       time.Time      `json:"deadline"`
}

// LeaderboardUpdatedPayload carries the standings after a scored question.
type LeaderboardUpdatedPayload struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// RoundFinishedPayload carries final standings for a round.
type RoundFinishedPayload struct {
	Round       Round              `json:"round"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Degraded    bool               `json:"degraded"`
	Reason      string             `json:"reason,omitempty"`
}
