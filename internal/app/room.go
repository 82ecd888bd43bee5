package app

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"million-dialogue/internal/dependencies/clock"
	"million-dialogue/internal/dependencies/random"
	"million-dialogue/internal/domain"
)

// Sink receives the events of the room a connection is bound to.
// Deliver is called with the room lock held and must not block.
type Sink interface {
	ConnectionID() string
	Deliver(domain.Event)
}

// Engine bundles the collaborators shared by every room.
type Engine struct {
	Clock            clock.Clock
	Random           random.Random
	Scoring          ScoringPolicy
	Scheduler        *Scheduler
	LatencyAllowance time.Duration
	Logger           *slog.Logger
}

// NewEngine wires the shared collaborators and a scheduler on the same clock.
func NewEngine(c clock.Clock, rnd random.Random, scoring ScoringPolicy, latencyAllowance, revealDelay time.Duration, logger *slog.Logger) Engine {
	if scoring == nil {
		scoring = DefaultScoringPolicy()
	}
	return Engine{
		Clock:            c,
		Random:           rnd,
		Scoring:          scoring,
		Scheduler:        NewScheduler(c, revealDelay, logger),
		LatencyAllowance: latencyAllowance,
		Logger:           logger,
	}
}

// Room is the per-room actor. Every exported method takes the room lock,
// so client actions and timer callbacks are serialized.
type Room struct {
	id         string
	title      string
	visibility domain.Visibility
	settings   domain.RoomSettings
	set        domain.QuestionSet
	createdAt  time.Time
	engine     Engine
	logger     *slog.Logger
	onClosed   func(*Room)

	mu           sync.Mutex
	state        domain.RoomState
	hostUserID   string
	players      map[string]*domain.Player
	sinks        map[string]Sink
	scores       map[string]*domain.ScoreEntry
	round        *activeRound
	roundsPlayed int
	version      uint64
	seq          uint64
	lastActivity time.Time
	announced    bool
}

type activeRound struct {
	meta        domain.Round
	questions   []domain.Question
	windowOpen  bool
	openedAt    time.Time
	submissions map[string]domain.AnswerSubmission
	timer       clock.Timer
}

func newRoom(id, title string, visibility domain.Visibility, settings domain.RoomSettings, set domain.QuestionSet, engine Engine, onClosed func(*Room)) *Room {
	now := engine.Clock.Now()
	return &Room{
		id:           id,
		title:        title,
		visibility:   visibility,
		settings:     settings,
		set:          set,
		createdAt:    now,
		engine:       engine,
		logger:       engine.Logger.With(slog.String("room", id)),
		onClosed:     onClosed,
		state:        domain.RoomStateLobby,
		players:      make(map[string]*domain.Player),
		sinks:        make(map[string]Sink),
		scores:       make(map[string]*domain.ScoreEntry),
		lastActivity: now,
	}
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// Visibility returns whether the room is listed publicly.
func (r *Room) Visibility() domain.Visibility { return r.visibility }

// CreatedAt returns the creation time.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Join admits a user or rebinds an existing player to a new connection.
// The first player to join becomes host.
func (r *Room) Join(identity domain.Identity, sink Sink) (domain.Player, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomStateClosed {
		return domain.Player{}, 0, domain.ErrRoomClosed
	}

	connID := ""
	if sink != nil {
		connID = sink.ConnectionID()
	}
	r.lastActivity = r.engine.Clock.Now()

	if existing, ok := r.players[identity.UserID]; ok {
		existing.ConnectionID = connID
		if identity.DisplayName != "" {
			existing.DisplayName = identity.DisplayName
			if score, ok := r.scores[identity.UserID]; ok {
				score.DisplayName = identity.DisplayName
			}
		}
		if identity.AvatarRef != "" {
			existing.AvatarRef = identity.AvatarRef
		}
		r.bindSinkLocked(identity.UserID, sink)
		r.publishLocked(domain.EventRoomJoined, domain.RoomJoinedPayload{
			Player:           *existing,
			ParticipantCount: len(r.players),
			Reconnected:      true,
		})
		return *existing, len(r.players), nil
	}

	if len(r.players) >= r.settings.MaxPlayers {
		return domain.Player{}, len(r.players), domain.ErrRoomFull
	}

	player := &domain.Player{
		ConnectionID: connID,
		UserID:       identity.UserID,
		DisplayName:  identity.DisplayName,
		AvatarRef:    identity.AvatarRef,
		JoinedAt:     r.lastActivity,
	}
	if r.hostUserID == "" {
		r.hostUserID = identity.UserID
		player.IsHost = true
	}
	r.players[identity.UserID] = player
	r.bindSinkLocked(identity.UserID, sink)

	if score, ok := r.scores[identity.UserID]; ok {
		score.DisplayName = player.DisplayName
	} else {
		r.scores[identity.UserID] = &domain.ScoreEntry{UserID: identity.UserID, DisplayName: player.DisplayName}
	}

	if !r.announced {
		r.announced = true
		r.publishLocked(domain.EventRoomCreated, domain.RoomCreatedPayload{Room: r.summaryLocked()})
	}
	r.publishLocked(domain.EventRoomJoined, domain.RoomJoinedPayload{
		Player:           *player,
		ParticipantCount: len(r.players),
	})
	return *player, len(r.players), nil
}

// Leave removes the player. An empty room closes and is handed to onClosed.
func (r *Room) Leave(userID string) error {
	return r.LeaveFrom(userID, "")
}

// LeaveFrom is an explicit leave sent over connectionID. It fails with
// ErrNotInRoom when the player is bound to a different connection. An
// empty connectionID skips the check.
func (r *Room) LeaveFrom(userID, connectionID string) error {
	closed, err := r.leave(userID, connectionID, "left")
	if closed {
		r.notifyClosed()
	}
	return err
}

// Disconnect removes the player only if connectionID is still their binding,
// so a stale connection cannot evict a player who reconnected elsewhere.
func (r *Room) Disconnect(userID, connectionID string) bool {
	closed, err := r.leave(userID, connectionID, "disconnected")
	if closed {
		r.notifyClosed()
	}
	return err == nil
}

func (r *Room) leave(userID, connectionID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomStateClosed {
		return false, domain.ErrRoomClosed
	}
	player, ok := r.players[userID]
	if !ok {
		return false, domain.ErrNotInRoom
	}
	if connectionID != "" && player.ConnectionID != connectionID {
		return false, domain.ErrNotInRoom
	}

	delete(r.players, userID)
	r.lastActivity = r.engine.Clock.Now()
	if r.hostUserID == userID {
		r.transferHostLocked()
	}

	r.publishLocked(domain.EventRoomLeft, domain.RoomLeftPayload{
		UserID:           userID,
		ParticipantCount: len(r.players),
		HostUserID:       r.hostUserID,
		Reason:           reason,
	})
	delete(r.sinks, userID)

	if len(r.players) == 0 {
		r.shutdownLocked()
		r.logger.Info("room closed", slog.String("reason", "empty"))
		return true, nil
	}

	if r.round != nil && r.round.windowOpen && r.allAnsweredLocked() {
		r.closeEarlyLocked()
	}
	return false, nil
}

// transferHostLocked hands the host role to the earliest joined player,
// breaking ties by user id.
func (r *Room) transferHostLocked() {
	r.hostUserID = ""
	var next *domain.Player
	for _, p := range r.players {
		if next == nil ||
			p.JoinedAt.Before(next.JoinedAt) ||
			(p.JoinedAt.Equal(next.JoinedAt) && p.UserID < next.UserID) {
			next = p
		}
	}
	if next == nil {
		return
	}
	next.IsHost = true
	r.hostUserID = next.UserID
	r.logger.Debug("host transferred", slog.String("user", next.UserID))
}

// StartRound starts a round for the host and opens its first question.
func (r *Room) StartRound(userID string) (domain.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomStateClosed {
		return domain.Round{}, domain.ErrRoomClosed
	}
	if userID != r.hostUserID {
		return domain.Round{}, domain.ErrNotHost
	}
	if r.state != domain.RoomStateLobby || r.round != nil {
		return domain.Round{}, domain.ErrRoundAlreadyActive
	}

	questions := r.pickQuestionsLocked()
	if len(questions) == 0 {
		return domain.Round{}, domain.ErrInvalidSettings
	}

	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	now := r.engine.Clock.Now()
	r.roundsPlayed++
	r.round = &activeRound{
		meta: domain.Round{
			ID:           uuid.NewString(),
			RoomID:       r.id,
			Number:       r.roundsPlayed,
			StartedAt:    now,
			QuestionIDs:  ids,
			TimeLimitSec: r.settings.TimeLimitSec,
			State:        domain.RoundStateInProgress,
		},
		questions: questions,
	}
	r.state = domain.RoomStateRoundActive
	r.lastActivity = now
	r.version++

	r.logger.Info("round started",
		slog.String("round", r.round.meta.ID),
		slog.Int("questions", len(questions)),
	)
	r.publishLocked(domain.EventRoundStarted, domain.RoundStartedPayload{Round: r.round.meta.Clone()})
	r.openQuestionLocked(0)
	return r.round.meta.Clone(), nil
}

func (r *Room) pickQuestionsLocked() []domain.Question {
	pool := make([]domain.Question, len(r.set.Questions))
	copy(pool, r.set.Questions)
	if r.settings.ShuffleQuestions {
		random.Shuffle(r.engine.Random, len(pool), func(i, j int) {
			pool[i], pool[j] = pool[j], pool[i]
		})
	}
	if n := r.settings.QuestionCount; n > 0 && n < len(pool) {
		pool = pool[:n]
	}
	return pool
}

func (r *Room) openQuestionLocked(index int) {
	round := r.round
	round.meta.CurrentIndex = index
	round.windowOpen = true
	round.openedAt = r.engine.Clock.Now()
	round.submissions = make(map[string]domain.AnswerSubmission, len(r.players))
	r.version++

	limit := r.timeLimit()
	q := round.questions[index]
	r.publishLocked(domain.EventQuestionSent, domain.QuestionSentPayload{
		RoundID:        round.meta.ID,
		Question:       q.Prompt(),
		TimeLimit:      r.settings.TimeLimitSec,
		OrderIndex:     index,
		TotalQuestions: len(round.questions),
		Deadline:       round.openedAt.Add(limit),
	})
	round.timer = r.engine.Scheduler.scheduleClose(r, r.version, limit)
}

// SubmitAnswer records a single answer for the open question. It never
// broadcasts; results are only published when the window closes.
func (r *Room) SubmitAnswer(userID, questionID string, chosenIndex int, clientTimeTakenMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomStateClosed {
		return domain.ErrRoomClosed
	}
	if _, ok := r.players[userID]; !ok {
		return domain.ErrNotInRoom
	}
	round := r.round
	if round == nil || !round.windowOpen {
		return domain.ErrNoActiveQuestion
	}
	q := round.questions[round.meta.CurrentIndex]
	if q.ID != questionID {
		return domain.ErrNoActiveQuestion
	}
	if chosenIndex < 0 || chosenIndex >= len(q.Options) {
		return domain.ErrInvalidChoice
	}
	if _, dup := round.submissions[userID]; dup {
		return domain.ErrAlreadyAnswered
	}

	now := r.engine.Clock.Now()
	round.submissions[userID] = domain.AnswerSubmission{
		RoomID:            r.id,
		QuestionID:        questionID,
		UserID:            userID,
		ChosenIndex:       chosenIndex,
		ClientTimeTakenMs: clientTimeTakenMs,
		ServerReceivedAt:  now,
	}
	r.lastActivity = now

	if r.allAnsweredLocked() {
		r.closeEarlyLocked()
	}
	return nil
}

func (r *Room) allAnsweredLocked() bool {
	if len(r.players) == 0 {
		return false
	}
	for userID := range r.players {
		if _, ok := r.round.submissions[userID]; !ok {
			return false
		}
	}
	return true
}

// closeEarlyLocked replaces the deadline timer with an immediate one for the
// same version, so early and timed closes share one scoring path.
func (r *Room) closeEarlyLocked() {
	if r.round.timer != nil {
		r.round.timer.Stop()
	}
	r.round.timer = r.engine.Scheduler.scheduleClose(r, r.version, 0)
}

// CloseQuestionWindow scores the open question. It reports false when the
// version is stale or the window is already closed; scores are never
// touched twice for the same window.
func (r *Room) CloseQuestionWindow(version uint64) (domain.QuestionResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	round := r.round
	if version != r.version || round == nil || !round.windowOpen {
		r.logger.Debug("stale close ignored", slog.Uint64("version", version), slog.Uint64("current", r.version))
		return domain.QuestionResult{}, false
	}

	q := round.questions[round.meta.CurrentIndex]
	result := r.scoreLocked(q)

	round.windowOpen = false
	round.timer = nil
	round.submissions = nil
	r.version++

	for _, o := range result.Outcomes {
		entry, ok := r.scores[o.UserID]
		if !ok {
			entry = &domain.ScoreEntry{UserID: o.UserID}
			r.scores[o.UserID] = entry
		}
		if !o.Answered {
			continue
		}
		entry.QuestionsAnswered++
		if o.Correct {
			entry.CorrectAnswers++
			entry.TotalPoints += o.Points
		}
	}
	r.publishLocked(domain.EventQuestionResult, result)
	r.publishLocked(domain.EventLeaderboardUpdated, domain.LeaderboardUpdatedPayload{Leaderboard: BuildLeaderboard(r.scores)})

	if round.meta.CurrentIndex == len(round.questions)-1 {
		r.state = domain.RoomStateRoundFinished
	}
	round.timer = r.engine.Scheduler.scheduleAdvance(r, r.version)
	return result, true
}

// scoreLocked computes outcomes without mutating room state, so a failing
// scoring policy leaves scores untouched.
func (r *Room) scoreLocked(q domain.Question) domain.QuestionResult {
	round := r.round
	limitMs := r.timeLimit().Milliseconds()

	userIDs := make([]string, 0, len(r.players)+len(round.submissions))
	seen := make(map[string]struct{}, cap(userIDs))
	for id := range r.players {
		seen[id] = struct{}{}
		userIDs = append(userIDs, id)
	}
	for id := range round.submissions {
		if _, ok := seen[id]; !ok {
			userIDs = append(userIDs, id)
		}
	}
	sort.Strings(userIDs)

	outcomes := make([]domain.AnswerOutcome, 0, len(userIDs))
	for _, id := range userIDs {
		sub, answered := round.submissions[id]
		if !answered {
			outcomes = append(outcomes, domain.AnswerOutcome{UserID: id})
			continue
		}
		chosen := sub.ChosenIndex
		elapsed := sub.ServerReceivedAt.Sub(round.openedAt)
		taken := EffectiveTimeMs(sub.ClientTimeTakenMs, elapsed, r.engine.LatencyAllowance, limitMs)
		outcome := domain.AnswerOutcome{
			UserID:      id,
			Answered:    true,
			ChosenIndex: &chosen,
			Correct:     chosen == q.CorrectIndex,
			TimeTakenMs: taken,
		}
		if outcome.Correct {
			outcome.Points = r.engine.Scoring.Points(taken, limitMs)
		}
		outcomes = append(outcomes, outcome)
	}

	return domain.QuestionResult{
		RoomID:       r.id,
		RoundID:      round.meta.ID,
		QuestionID:   q.ID,
		OrderIndex:   round.meta.CurrentIndex,
		CorrectIndex: q.CorrectIndex,
		Outcomes:     outcomes,
	}
}

// AdvanceOrFinish opens the next question or finishes the round once the
// result of the last one has been displayed. Stale versions are no-ops.
func (r *Room) AdvanceOrFinish(version uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	round := r.round
	if version != r.version || round == nil || round.windowOpen {
		r.logger.Debug("stale advance ignored", slog.Uint64("version", version), slog.Uint64("current", r.version))
		return false
	}
	if next := round.meta.CurrentIndex + 1; next < len(round.questions) {
		r.openQuestionLocked(next)
		return true
	}
	r.finishRoundLocked(false, "")
	return true
}

// CancelRound lets the host abort the running round.
func (r *Room) CancelRound(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomStateClosed {
		return domain.ErrRoomClosed
	}
	if userID != r.hostUserID {
		return domain.ErrNotHost
	}
	if r.round == nil {
		return domain.ErrNoActiveRound
	}
	r.finishRoundLocked(true, "cancelled")
	return nil
}

// abortRound forces the round to finish after a failed timer step. It only
// acts if nothing has moved the room on since the step was scheduled.
func (r *Room) abortRound(version uint64, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if version != r.version || r.round == nil {
		return
	}
	r.finishRoundLocked(true, reason)
}

func (r *Room) finishRoundLocked(degraded bool, reason string) {
	round := r.round
	if round.timer != nil {
		round.timer.Stop()
	}
	now := r.engine.Clock.Now()
	round.meta.State = domain.RoundStateFinished
	round.meta.FinishedAt = &now
	r.round = nil
	r.state = domain.RoomStateLobby
	r.lastActivity = now
	r.version++

	if degraded {
		r.logger.Warn("round finished degraded", slog.String("round", round.meta.ID), slog.String("reason", reason))
	} else {
		r.logger.Info("round finished", slog.String("round", round.meta.ID))
	}
	r.publishLocked(domain.EventRoundFinished, domain.RoundFinishedPayload{
		Round:       round.meta.Clone(),
		Leaderboard: BuildLeaderboard(r.scores),
		Degraded:    degraded,
		Reason:      reason,
	})
}

// Close tells remaining members the room is gone and cancels its timers.
// It reports false if the room was already closed.
func (r *Room) Close(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomStateClosed {
		return false
	}
	r.publishLocked(domain.EventRoomClosed, domain.RoomClosedPayload{Reason: reason})
	r.shutdownLocked()
	r.logger.Info("room closed", slog.String("reason", reason))
	return true
}

// closeIfIdle closes a lobby room whose last activity is older than timeout.
func (r *Room) closeIfIdle(now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	idle := r.state == domain.RoomStateLobby && timeout > 0 && now.Sub(r.lastActivity) >= timeout
	r.mu.Unlock()
	if !idle {
		return false
	}
	return r.Close("idle")
}

func (r *Room) shutdownLocked() {
	if r.round != nil {
		if r.round.timer != nil {
			r.round.timer.Stop()
		}
		now := r.engine.Clock.Now()
		r.round.meta.State = domain.RoundStateFinished
		r.round.meta.FinishedAt = &now
		r.round = nil
	}
	r.state = domain.RoomStateClosed
	r.version++
	r.players = make(map[string]*domain.Player)
	r.sinks = make(map[string]Sink)
}

func (r *Room) notifyClosed() {
	if r.onClosed != nil {
		r.onClosed(r)
	}
}

func (r *Room) bindSinkLocked(userID string, sink Sink) {
	if sink == nil {
		delete(r.sinks, userID)
		return
	}
	r.sinks[userID] = sink
}

// publishLocked stamps the next sequence number and hands the event to every
// bound sink in the same order.
func (r *Room) publishLocked(eventType domain.EventType, payload any) {
	r.seq++
	event := domain.Event{
		Type:    eventType,
		RoomID:  r.id,
		Seq:     r.seq,
		At:      r.engine.Clock.Now(),
		Payload: payload,
	}
	for _, userID := range r.sinkOrderLocked() {
		r.sinks[userID].Deliver(event)
	}
}

func (r *Room) sinkOrderLocked() []string {
	ids := make([]string, 0, len(r.sinks))
	for id := range r.sinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Room) timeLimit() time.Duration {
	return time.Duration(r.settings.TimeLimitSec) * time.Second
}

// Closed reports whether the room has been closed.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == domain.RoomStateClosed
}

// State returns the current room state.
func (r *Room) State() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Version returns the transition counter timers are checked against.
func (r *Room) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// PlayerCount returns the number of players currently in the room.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// HostUserID returns the current host.
func (r *Room) HostUserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostUserID
}

// Score returns a copy of a user's score entry.
func (r *Room) Score(userID string) (domain.ScoreEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.scores[userID]
	if !ok {
		return domain.ScoreEntry{}, false
	}
	return *entry, true
}

// Leaderboard derives the current standings from the score entries.
func (r *Room) Leaderboard() []domain.LeaderboardEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return BuildLeaderboard(r.scores)
}

// CurrentQuestionID returns the id of the question whose window is open.
func (r *Room) CurrentQuestionID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.round == nil || !r.round.windowOpen {
		return "", false
	}
	return r.round.questions[r.round.meta.CurrentIndex].ID, true
}

// Summary returns an immutable snapshot of the room.
func (r *Room) Summary() domain.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

func (r *Room) summaryLocked() domain.RoomSummary {
	players := make([]domain.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].UserID < players[j].UserID
	})

	summary := domain.RoomSummary{
		ID:               r.id,
		Title:            r.title,
		Visibility:       r.visibility,
		HostUserID:       r.hostUserID,
		State:            r.state,
		ParticipantCount: len(r.players),
		Settings:         r.settings,
		Players:          players,
		CreatedAt:        r.createdAt,
	}
	if r.round != nil {
		round := r.round.meta.Clone()
		summary.CurrentRound = &round
	}
	return summary
}
