package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"million-dialogue/internal/domain"
)

const (
	// RoomCodeLength is the length of generated room ids.
	RoomCodeLength = 6
	// RoomCodeAlphabet leaves out characters that are easy to confuse (0/O, 1/I).
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	maxCodeAttempts = 16
	maxTitleLength  = 80
	minTimeLimitSec = 1
	maxTimeLimitSec = 600
)

// ErrRoomCodeExhausted is returned when no free room code was found.
var ErrRoomCodeExhausted = errors.New("could not allocate a unique room code")

// RoomStore abstracts how live rooms are indexed (in-memory, mirrored to Redis, etc).
type RoomStore interface {
	PutIfAbsent(ctx context.Context, room *Room) bool
	Get(roomID string) (*Room, bool)
	CompareAndDelete(ctx context.Context, roomID string, room *Room) bool
	Range(fn func(*Room) bool)
	Len() int
	Touch(ctx context.Context, room *Room)
}

// RegistryOptions configures room defaults and eviction policy.
type RegistryOptions struct {
	Defaults      domain.RoomSettings
	MaxPlayers    int
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Registry creates, finds and evicts rooms. It never mutates room
// internals; rooms change only through their own methods.
type Registry struct {
	store  RoomStore
	engine Engine
	opts   RegistryOptions
	logger *slog.Logger
}

// NewRegistry builds a registry over store.
func NewRegistry(store RoomStore, engine Engine, opts RegistryOptions) *Registry {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = 50
	}
	if opts.Defaults.MaxPlayers <= 0 || opts.Defaults.MaxPlayers > opts.MaxPlayers {
		opts.Defaults.MaxPlayers = opts.MaxPlayers
	}
	if opts.Defaults.QuestionCount <= 0 {
		opts.Defaults.QuestionCount = 10
	}
	if opts.Defaults.TimeLimitSec <= 0 {
		opts.Defaults.TimeLimitSec = 15
	}
	return &Registry{
		store:  store,
		engine: engine,
		opts:   opts,
		logger: engine.Logger.With(slog.String("component", "registry")),
	}
}

// NormalizeSettings fills zero values from the defaults and validates the result.
func (g *Registry) NormalizeSettings(settings domain.RoomSettings) (domain.RoomSettings, error) {
	if settings.MaxPlayers == 0 {
		settings.MaxPlayers = g.opts.Defaults.MaxPlayers
	}
	if settings.QuestionCount == 0 {
		settings.QuestionCount = g.opts.Defaults.QuestionCount
	}
	if settings.TimeLimitSec == 0 {
		settings.TimeLimitSec = g.opts.Defaults.TimeLimitSec
	}
	if settings.QuestionSetID == "" {
		settings.QuestionSetID = g.opts.Defaults.QuestionSetID
	}
	if g.opts.Defaults.ShuffleQuestions {
		settings.ShuffleQuestions = true
	}

	switch {
	case settings.MaxPlayers < 1 || settings.MaxPlayers > g.opts.MaxPlayers:
		return settings, fmt.Errorf("%w: max players must be between 1 and %d", domain.ErrInvalidSettings, g.opts.MaxPlayers)
	case settings.QuestionCount < 1:
		return settings, fmt.Errorf("%w: question count must be positive", domain.ErrInvalidSettings)
	case settings.TimeLimitSec < minTimeLimitSec || settings.TimeLimitSec > maxTimeLimitSec:
		return settings, fmt.Errorf("%w: time limit must be between %d and %d seconds", domain.ErrInvalidSettings, minTimeLimitSec, maxTimeLimitSec)
	}
	return settings, nil
}

// CreateRoom allocates a unique code and stores a new room in the lobby.
func (g *Registry) CreateRoom(ctx context.Context, ownerUserID, title string, visibility domain.Visibility, settings domain.RoomSettings, set domain.QuestionSet) (*Room, error) {
	switch visibility {
	case "":
		visibility = domain.VisibilityPublic
	case domain.VisibilityPublic, domain.VisibilityPrivate:
	default:
		return nil, fmt.Errorf("%w: unknown visibility %q", domain.ErrInvalidSettings, visibility)
	}
	title = strings.TrimSpace(title)
	if len(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title longer than %d characters", domain.ErrInvalidSettings, maxTitleLength)
	}

	settings, err := g.NormalizeSettings(settings)
	if err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	if settings.QuestionCount > len(set.Questions) {
		settings.QuestionCount = len(set.Questions)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := g.engine.Random.String(RoomCodeLength, RoomCodeAlphabet)
		if code == "" {
			continue
		}
		roomTitle := title
		if roomTitle == "" {
			roomTitle = "Room " + code
		}
		room := newRoom(code, roomTitle, visibility, settings, set, g.engine, g.onRoomClosed)
		if g.store.PutIfAbsent(ctx, room) {
			g.logger.Info("room created",
				slog.String("room", code),
				slog.String("owner", ownerUserID),
				slog.String("visibility", string(visibility)),
			)
			return room, nil
		}
	}
	return nil, ErrRoomCodeExhausted
}

// GetRoom returns a live room. Closed rooms are reported as not found even
// if eviction has not removed them yet.
func (g *Registry) GetRoom(roomID string) (*Room, error) {
	room, ok := g.store.Get(strings.ToUpper(strings.TrimSpace(roomID)))
	if !ok || room.Closed() {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// EvictIfEmpty removes the room if it has no players, closing it first.
func (g *Registry) EvictIfEmpty(ctx context.Context, roomID string) bool {
	room, ok := g.store.Get(roomID)
	if !ok {
		return false
	}
	if !room.Closed() {
		if room.PlayerCount() > 0 {
			return false
		}
		room.Close("empty")
	}
	return g.remove(ctx, room, "empty")
}

// RoomDirectory is implemented by stores that can describe rooms owned by
// other processes.
type RoomDirectory interface {
	Lookup(ctx context.Context, roomID string) (domain.RoomSummary, error)
}

// Lookup returns a summary of a live local room, falling back to the
// store's directory when the room is not held by this process.
func (g *Registry) Lookup(ctx context.Context, roomID string) (domain.RoomSummary, error) {
	room, err := g.GetRoom(roomID)
	if err == nil {
		return room.Summary(), nil
	}
	directory, ok := g.store.(RoomDirectory)
	if !ok {
		return domain.RoomSummary{}, err
	}
	return directory.Lookup(ctx, strings.ToUpper(strings.TrimSpace(roomID)))
}

// Touch refreshes the store's view of a live room after a membership change.
func (g *Registry) Touch(ctx context.Context, room *Room) {
	if room.Closed() {
		return
	}
	g.store.Touch(ctx, room)
}

// onRoomClosed is the callback a room invokes once its last player leaves.
func (g *Registry) onRoomClosed(room *Room) {
	g.EvictIfEmpty(context.Background(), room.ID())
}

// remove deletes only the exact room instance, so a stale handle never
// removes a newer room that reused the code.
func (g *Registry) remove(ctx context.Context, room *Room, reason string) bool {
	if !g.store.CompareAndDelete(ctx, room.ID(), room) {
		return false
	}
	g.logger.Info("room evicted", slog.String("room", room.ID()), slog.String("reason", reason))
	return true
}

// ListPublic returns summaries of open public rooms, oldest first.
func (g *Registry) ListPublic() []domain.RoomSummary {
	summaries := make([]domain.RoomSummary, 0)
	for _, room := range g.snapshot() {
		if room.Visibility() != domain.VisibilityPublic {
			continue
		}
		summary := room.Summary()
		if summary.State == domain.RoomStateClosed {
			continue
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

// Len returns the number of indexed rooms.
func (g *Registry) Len() int {
	return g.store.Len()
}

// snapshot copies room handles out of the store so no store lock is held
// while rooms are inspected.
func (g *Registry) snapshot() []*Room {
	rooms := make([]*Room, 0, g.store.Len())
	g.store.Range(func(room *Room) bool {
		rooms = append(rooms, room)
		return true
	})
	return rooms
}

// SweepIdle closes and evicts idle lobby rooms and refreshes the rest.
func (g *Registry) SweepIdle(ctx context.Context) int {
	now := g.engine.Clock.Now()
	evicted := 0
	for _, room := range g.snapshot() {
		if room.closeIfIdle(now, g.opts.IdleTimeout) || room.Closed() {
			if g.remove(ctx, room, "idle") {
				evicted++
			}
			continue
		}
		g.store.Touch(ctx, room)
	}
	return evicted
}

// Run sweeps idle rooms every SweepInterval until ctx is done.
func (g *Registry) Run(ctx context.Context) {
	interval := g.opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.SweepIdle(ctx); n > 0 {
				g.logger.Info("idle rooms evicted", slog.Int("count", n))
			}
		}
	}
}

// Shutdown closes every room and empties the registry.
func (g *Registry) Shutdown(ctx context.Context) {
	for _, room := range g.snapshot() {
		room.Close("shutdown")
		g.remove(ctx, room, "shutdown")
	}
}
