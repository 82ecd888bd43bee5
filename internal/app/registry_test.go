package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"million-dialogue/internal/app"
	"million-dialogue/internal/dependencies/mocks"
	"million-dialogue/internal/dependencies/random"
	"million-dialogue/internal/domain"
	"million-dialogue/internal/infra/memory"
	"million-dialogue/internal/testutil"
)

func TestCreateRoomRejectsInvalidSettings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	set := testutil.QuestionSet("test", 3)

	tests := []struct {
		name       string
		visibility domain.Visibility
		settings   domain.RoomSettings
	}{
		{name: "time limit too long", settings: domain.RoomSettings{TimeLimitSec: 3600}},
		{name: "negative time limit", settings: domain.RoomSettings{TimeLimitSec: -1}},
		{name: "negative question count", settings: domain.RoomSettings{QuestionCount: -2}},
		{name: "too many players", settings: domain.RoomSettings{MaxPlayers: 51}},
		{name: "unknown visibility", visibility: "secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.registry.CreateRoom(ctx, "alice", "Room", tt.visibility, tt.settings, set)
			assert.ErrorIs(t, err, domain.ErrInvalidSettings)
		})
	}

	_, err := h.registry.CreateRoom(ctx, "alice", "Room", domain.VisibilityPublic, domain.RoomSettings{}, domain.QuestionSet{ID: "empty"})
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
	assert.Equal(t, 0, h.registry.Len())
}

func TestCreateRoomWithUnknownQuestionSet(t *testing.T) {
	h := newHarness(t)
	h.rnd.QueueString("ROOM01")
	_, err := h.service.CreateRoom(context.Background(), identity("alice"), nil, "Room", domain.VisibilityPublic, domain.RoomSettings{QuestionSetID: "missing"})
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
}

func TestCreateRoomRetriesOnCodeCollision(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	set := testutil.QuestionSet("test", 3)

	h.rnd.QueueString("AAAAAA", "AAAAAA", "BBBBBB")
	first, err := h.registry.CreateRoom(ctx, "alice", "", domain.VisibilityPublic, domain.RoomSettings{}, set)
	require.NoError(t, err)
	second, err := h.registry.CreateRoom(ctx, "bob", "", domain.VisibilityPublic, domain.RoomSettings{}, set)
	require.NoError(t, err)

	assert.Equal(t, "AAAAAA", first.ID())
	assert.Equal(t, "BBBBBB", second.ID())
	assert.Equal(t, "Room BBBBBB", second.Summary().Title)

	_, err = h.registry.CreateRoom(ctx, "carol", "", domain.VisibilityPublic, domain.RoomSettings{}, set)
	assert.ErrorIs(t, err, app.ErrRoomCodeExhausted)
}

func TestCreateRoomAppliesDefaultsAndClampsQuestionCount(t *testing.T) {
	h := newHarness(t)
	h.rnd.QueueString("ROOM01")
	room, err := h.registry.CreateRoom(context.Background(), "alice", "Room", "", domain.RoomSettings{QuestionCount: 20}, testutil.QuestionSet("small", 2))
	require.NoError(t, err)

	settings := room.Summary().Settings
	assert.Equal(t, 50, settings.MaxPlayers)
	assert.Equal(t, 2, settings.QuestionCount)
	assert.Equal(t, 10, settings.TimeLimitSec)
	assert.Equal(t, domain.VisibilityPublic, room.Visibility())
}

func TestGetRoomNormalizesCode(t *testing.T) {
	h := newHarness(t)
	h.createRoom(t, "ROOM01", identity("alice"), nil, domain.RoomSettings{})

	room, err := h.registry.GetRoom(" room01 ")
	require.NoError(t, err)
	assert.Equal(t, "ROOM01", room.ID())

	_, err = h.registry.GetRoom("NOPE00")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestListPublicSkipsPrivateRooms(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	set := testutil.QuestionSet("test", 3)

	h.rnd.QueueString("PUB001", "PRIV01", "PUB002")
	_, err := h.registry.CreateRoom(ctx, "alice", "First", domain.VisibilityPublic, domain.RoomSettings{}, set)
	require.NoError(t, err)
	_, err = h.registry.CreateRoom(ctx, "bob", "Hidden", domain.VisibilityPrivate, domain.RoomSettings{}, set)
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	_, err = h.registry.CreateRoom(ctx, "carol", "Second", domain.VisibilityPublic, domain.RoomSettings{}, set)
	require.NoError(t, err)

	rooms := h.registry.ListPublic()
	require.Len(t, rooms, 2)
	assert.Equal(t, "PUB001", rooms[0].ID)
	assert.Equal(t, "PUB002", rooms[1].ID)
}

func TestEvictIfEmpty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createRoom(t, "ROOM01", identity("alice"), nil, domain.RoomSettings{})

	assert.False(t, h.registry.EvictIfEmpty(ctx, "ROOM01"))

	h.rnd.QueueString("ROOM02")
	empty, err := h.registry.CreateRoom(ctx, "bob", "", domain.VisibilityPublic, domain.RoomSettings{}, testutil.QuestionSet("test", 3))
	require.NoError(t, err)
	assert.True(t, h.registry.EvictIfEmpty(ctx, "ROOM02"))
	assert.True(t, empty.Closed())
	assert.False(t, h.registry.EvictIfEmpty(ctx, "ROOM02"))
	assert.Equal(t, 1, h.registry.Len())
}

func TestSweepIdleClosesQuietLobbies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	idleSink := testutil.NewRecordingSink("conn-a")
	idle := h.createRoom(t, "IDLE01", identity("alice"), idleSink, domain.RoomSettings{})
	busy := h.createRoom(t, "BUSY01", identity("bob"), nil, domain.RoomSettings{TimeLimitSec: 600, QuestionCount: 1})
	_, _, err := busy.Join(identity("carol"), nil)
	require.NoError(t, err)

	h.clock.Advance(4 * time.Minute)
	_, err = busy.StartRound("bob")
	require.NoError(t, err)
	assert.Equal(t, 0, h.registry.SweepIdle(ctx))

	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, h.registry.SweepIdle(ctx))

	assert.True(t, idle.Closed())
	closed, ok := idleSink.Last(domain.EventRoomClosed)
	require.True(t, ok)
	assert.Equal(t, "idle", closed.Payload.(domain.RoomClosedPayload).Reason)
	assert.False(t, busy.Closed(), "rooms mid-round are never idle")
	assert.Equal(t, 1, h.registry.Len())
}

func TestShutdownClosesEveryRoom(t *testing.T) {
	h := newHarness(t)
	sink := testutil.NewRecordingSink("conn-a")
	first := h.createRoom(t, "ROOM01", identity("alice"), sink, domain.RoomSettings{})
	second := h.createRoom(t, "ROOM02", identity("bob"), nil, domain.RoomSettings{})
	_, err := second.StartRound("bob")
	require.NoError(t, err)

	h.registry.Shutdown(context.Background())

	assert.True(t, first.Closed())
	assert.True(t, second.Closed())
	assert.Equal(t, 0, h.registry.Len())
	assert.Equal(t, 0, h.clock.Pending())
	_, ok := sink.Last(domain.EventRoomClosed)
	assert.True(t, ok)
}

func TestRegistryConcurrentRooms(t *testing.T) {
	ctx := context.Background()
	clk := mocks.NewManualClock(epoch)
	engine := app.NewEngine(clk, random.New(), nil, latencyAllowance, revealDelay, testutil.NopLogger())
	registry := app.NewRegistry(memory.NewRoomStore(), engine, app.RegistryOptions{MaxPlayers: 10})
	set := testutil.QuestionSet("test", 3)

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := fmt.Sprintf("user-%d", i)
			room, err := registry.CreateRoom(ctx, owner, "", domain.VisibilityPublic, domain.RoomSettings{}, set)
			if err != nil {
				errs <- err
				return
			}
			if _, _, err := room.Join(identity(owner), nil); err != nil {
				errs <- err
				return
			}
			if _, err := registry.GetRoom(room.ID()); err != nil {
				errs <- err
				return
			}
			_ = registry.ListPublic()
			if err := room.Leave(owner); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent room lifecycle: %v", err)
	}
	assert.Equal(t, 0, registry.Len())
}
