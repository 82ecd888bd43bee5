package domain

import (
	"fmt"
	"time"
)

// Visibility controls whether a room is listed for discovery.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// RoomState is the lifecycle state of a room.
type RoomState string

const (
	RoomStateLobby         RoomState = "lobby"
	RoomStateRoundActive   RoomState = "round_active"
	RoomStateRoundFinished RoomState = "round_finished" // last result on display
	RoomStateClosed        RoomState = "closed"
)

// RoundState is the lifecycle state of a round.
type RoundState string

const (
	RoundStatePending    RoundState = "pending"
	RoundStateInProgress RoundState = "in_progress"
	RoundStateFinished   RoundState = "finished"
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// Player is a member of exactly one room.
type Player struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	AvatarRef    string    `json:"avatarRef,omitempty"`
	IsHost       bool      `json:"isHost"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID           string   `json:"id" yaml:"id"`
	Text         string   `json:"text" yaml:"text"`
	Options      []string `json:"options" yaml:"options"`
	CorrectIndex int      `json:"correctIndex" yaml:"correct_index"`
	Difficulty   int      `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
}

// Prompt strips the answer so the question can be sent to players.
func (q Question) Prompt() QuestionPrompt {
	options := make([]string, len(q.Options))
	copy(options, q.Options)
	return QuestionPrompt{
		ID:         q.ID,
		Text:       q.Text,
		Options:    options,
		Difficulty: q.Difficulty,
	}
}

// QuestionPrompt is a question as players see it.
type QuestionPrompt struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Difficulty int      `json:"difficulty,omitempty"`
}

// QuestionSet is a named collection of questions rooms draw rounds from.
type QuestionSet struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Validate checks that every question in the set can be played.
func (s QuestionSet) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: question set id is empty", ErrInvalidQuestionSet)
	}
	if len(s.Questions) == 0 {
		return fmt.Errorf("%w: question set %q has no questions", ErrInvalidQuestionSet, s.ID)
	}
	seen := make(map[string]struct{}, len(s.Questions))
	for _, q := range s.Questions {
		if q.ID == "" {
			return fmt.Errorf("%w: question without id in set %q", ErrInvalidQuestionSet, s.ID)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q in set %q", ErrInvalidQuestionSet, q.ID, s.ID)
		}
		seen[q.ID] = struct{}{}
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: question %q needs at least two options", ErrInvalidQuestionSet, q.ID)
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("%w: question %q correct index %d out of range", ErrInvalidQuestionSet, q.ID, q.CorrectIndex)
		}
	}
	return nil
}

// RoomSettings are the per-room gameplay parameters.
type RoomSettings struct {
	MaxPlayers       int    `json:"maxPlayers"`
	QuestionCount    int    `json:"questionCount"`
	TimeLimitSec     int    `json:"timeLimitSec"`
	ShuffleQuestions bool   `json:"shuffleQuestions"`
	QuestionSetID    string `json:"questionSetId"`
}

// Round is one ordered sequence of questions played within a room.
type Round struct {
	ID           string     `json:"id"`
	RoomID       string     `json:"roomId"`
	Number       int        `json:"number"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	QuestionIDs  []string   `json:"questionIds"`
	CurrentIndex int        `json:"currentIndex"`
	TimeLimitSec int        `json:"timeLimitSec"`
	State        RoundState `json:"state"`
}

// Clone returns a copy that shares no slices with r.
func (r Round) Clone() Round {
	ids := make([]string, len(r.QuestionIDs))
	copy(ids, r.QuestionIDs)
	r.QuestionIDs = ids
	if r.FinishedAt != nil {
		at := *r.FinishedAt
		r.FinishedAt = &at
	}
	return r
}

// AnswerSubmission is held only while its question window is open.
type AnswerSubmission struct {
	RoomID            string
	QuestionID        string
	UserID            string
	ChosenIndex       int
	ClientTimeTakenMs int64
	ServerReceivedAt  time.Time
}

// ScoreEntry accumulates a user's points for the lifetime of a room.
type ScoreEntry struct {
	UserID            string `json:"userId"`
	DisplayName       string `json:"displayName"`
	TotalPoints       int64  `json:"totalPoints"`
	CorrectAnswers    int    `json:"correctAnswers"`
	QuestionsAnswered int    `json:"questionsAnswered"`
}

// LeaderboardEntry is a ranked view of a ScoreEntry.
type LeaderboardEntry struct {
	Rank              int    `json:"rank"`
	UserID            string `json:"userId"`
	DisplayName       string `json:"displayName"`
	TotalPoints       int64  `json:"totalPoints"`
	CorrectAnswers    int    `json:"correctAnswers"`
	QuestionsAnswered int    `json:"questionsAnswered"`
}

// AnswerOutcome is one user's result for a closed question.
type AnswerOutcome struct {
	UserID      string `json:"userId"`
	Answered    bool   `json:"answered"`
	ChosenIndex *int   `json:"chosenIndex,omitempty"`
	Correct     bool   `json:"correct"`
	Points      int64  `json:"points"`
	TimeTakenMs int64  `json:"timeTakenMs,omitempty"`
}

// QuestionResult is produced when a question window closes.
type QuestionResult struct {
	RoomID       string          `json:"roomId"`
	RoundID      string          `json:"roundId"`
	QuestionID   string          `json:"questionId"`
	OrderIndex   int             `json:"orderIndex"`
	CorrectIndex int             `json:"correctIndex"`
	Outcomes     []AnswerOutcome `json:"outcomes"`
}

// Outcome returns the outcome recorded for userID.
func (r QuestionResult) Outcome(userID string) (AnswerOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.UserID == userID {
			return o, true
		}
	}
	return AnswerOutcome{}, false
}

// RoomSummary is an immutable snapshot of a room for responses and discovery.
type RoomSummary struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Visibility       Visibility   `json:"visibility"`
	HostUserID       string       `json:"hostUserId"`
	State            RoomState    `json:"state"`
	ParticipantCount int          `json:"participantCount"`
	Settings         RoomSettings `json:"settings"`
	Players          []Player     `json:"players"`
	CurrentRound     *Round       `json:"currentRound,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
}
