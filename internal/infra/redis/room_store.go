package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"million-dialogue/internal/app"
	"million-dialogue/internal/domain"
	"million-dialogue/internal/infra/memory"
)

const publicRoomsKey = "rooms:public"

// RoomStore is a Redis-aware implementation of app.RoomStore.
// Notes:
//   - Live rooms stay in the embedded in-memory store; a room is owned by the
//     process that created it.
//   - Redis holds a directory: a summary per room under room:{id} with a TTL
//     refreshed on every sweep, plus the rooms:public set for discovery.
//   - Directory writes are best effort and never fail a room operation.
type RoomStore struct {
	*memory.RoomStore
	client *redis.Client
	ttl    time.Duration
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		RoomStore: memory.NewRoomStore(),
		client:    client,
		ttl:       ttl,
	}
}

func (s *RoomStore) PutIfAbsent(ctx context.Context, room *app.Room) bool {
	if !s.RoomStore.PutIfAbsent(ctx, room) {
		return false
	}
	s.mirror(ctx, room.Summary())
	return true
}

func (s *RoomStore) CompareAndDelete(ctx context.Context, roomID string, room *app.Room) bool {
	if !s.RoomStore.CompareAndDelete(ctx, roomID, room) {
		return false
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, roomKey(roomID))
	pipe.SRem(ctx, publicRoomsKey, roomID)
	_, _ = pipe.Exec(ctx)
	return true
}

// Touch refreshes the room's directory entry and TTL.
func (s *RoomStore) Touch(ctx context.Context, room *app.Room) {
	s.mirror(ctx, room.Summary())
}

// Lookup reads a room summary from the directory.
func (s *RoomStore) Lookup(ctx context.Context, roomID string) (domain.RoomSummary, error) {
	raw, err := s.client.Get(ctx, roomKey(roomID)).Bytes()
	if err == redis.Nil {
		return domain.RoomSummary{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.RoomSummary{}, err
	}
	var summary domain.RoomSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return domain.RoomSummary{}, err
	}
	return summary, nil
}

// publicRoomIDs lists the ids indexed for discovery.
func (s *RoomStore) publicRoomIDs(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, publicRoomsKey).Result()
}

func (s *RoomStore) mirror(ctx context.Context, summary domain.RoomSummary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roomKey(summary.ID), payload, s.ttl)
	if summary.Visibility == domain.VisibilityPublic {
		pipe.SAdd(ctx, publicRoomsKey, summary.ID)
	}
	_, _ = pipe.Exec(ctx)
}

func roomKey(roomID string) string {
	return "room:" + roomID
}
