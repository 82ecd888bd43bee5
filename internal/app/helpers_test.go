package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"million-dialogue/internal/app"
	"million-dialogue/internal/dependencies/mocks"
	"million-dialogue/internal/domain"
	"million-dialogue/internal/infra/memory"
	"million-dialogue/internal/testutil"
)

var epoch = time.Date(2024, 11, 22, 12, 0, 0, 0, time.UTC)

const (
	revealDelay      = 3 * time.Second
	latencyAllowance = 500 * time.Millisecond
)

type harness struct {
	clock    *mocks.ManualClock
	rnd      *mocks.MockRandom
	store    *memory.RoomStore
	registry *app.Registry
	service  *app.RoomService
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithPolicy(t, app.DefaultScoringPolicy())
}

func newHarnessWithPolicy(t *testing.T, policy app.ScoringPolicy) *harness {
	t.Helper()
	clk := mocks.NewManualClock(epoch)
	rnd := mocks.NewMockRandom()
	store := memory.NewRoomStore()
	engine := app.NewEngine(clk, rnd, policy, latencyAllowance, revealDelay, testutil.NopLogger())
	registry := app.NewRegistry(store, engine, app.RegistryOptions{
		Defaults: domain.RoomSettings{
			MaxPlayers:    50,
			QuestionCount: 3,
			TimeLimitSec:  10,
			QuestionSetID: "test",
		},
		MaxPlayers:  50,
		IdleTimeout: 5 * time.Minute,
	})
	bank := memory.NewQuestionSetCache(memory.NewStaticQuestionSetLoader(map[string]domain.QuestionSet{
		"test": testutil.QuestionSet("test", 5),
	}), time.Minute)
	return &harness{
		clock:    clk,
		rnd:      rnd,
		store:    store,
		registry: registry,
		service:  app.NewRoomService(registry, bank),
	}
}

func identity(userID string) domain.Identity {
	return domain.Identity{UserID: userID, DisplayName: "Player " + userID}
}

// createRoom creates a room with the given code owned by owner.
func (h *harness) createRoom(t *testing.T, code string, owner domain.Identity, sink app.Sink, settings domain.RoomSettings) *app.Room {
	t.Helper()
	h.rnd.QueueString(code)
	summary, err := h.service.CreateRoom(context.Background(), owner, sink, "Quiz night", domain.VisibilityPublic, settings)
	require.NoError(t, err)
	require.Equal(t, code, summary.ID)
	room, err := h.registry.GetRoom(code)
	require.NoError(t, err)
	return room
}

// answerCurrent submits choice for whatever question is open.
func answerCurrent(t *testing.T, room *app.Room, userID string, choice int, tookMs int64) {
	t.Helper()
	qID, ok := room.CurrentQuestionID()
	require.True(t, ok, "expected an open question")
	require.NoError(t, room.SubmitAnswer(userID, qID, choice, tookMs))
}

func questionResults(sink *testutil.RecordingSink) []domain.QuestionResult {
	var out []domain.QuestionResult
	for _, e := range sink.OfType(domain.EventQuestionResult) {
		out = append(out, e.Payload.(domain.QuestionResult))
	}
	return out
}

func roundFinished(t *testing.T, sink *testutil.RecordingSink) domain.RoundFinishedPayload {
	t.Helper()
	event, ok := sink.Last(domain.EventRoundFinished)
	require.True(t, ok, "expected round.finished")
	return event.Payload.(domain.RoundFinishedPayload)
}

type panickingPolicy struct{}

func (panickingPolicy) Points(int64, int64) int64 {
	panic("scoring exploded")
}
