package memory

import (
	"context"
	"hash/fnv"
	"sync"

	"million-dialogue/internal/app"
)

const shardCount = 32

// RoomStore is a lock-striped in-memory implementation of app.RoomStore.
// Rooms on different shards never contend.
type RoomStore struct {
	shards [shardCount]roomShard
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]*app.Room
}

func NewRoomStore() *RoomStore {
	s := &RoomStore{}
	for i := range s.shards {
		s.shards[i].rooms = make(map[string]*app.Room)
	}
	return s
}

func (s *RoomStore) shard(roomID string) *roomShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return &s.shards[h.Sum32()%shardCount]
}

func (s *RoomStore) PutIfAbsent(_ context.Context, room *app.Room) bool {
	sh := s.shard(room.ID())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.rooms[room.ID()]; exists {
		return false
	}
	sh.rooms[room.ID()] = room
	return true
}

func (s *RoomStore) Get(roomID string) (*app.Room, bool) {
	sh := s.shard(roomID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	room, ok := sh.rooms[roomID]
	return room, ok
}

func (s *RoomStore) CompareAndDelete(_ context.Context, roomID string, room *app.Room) bool {
	sh := s.shard(roomID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if current, ok := sh.rooms[roomID]; !ok || current != room {
		return false
	}
	delete(sh.rooms, roomID)
	return true
}

// Range visits rooms shard by shard; fn runs without any shard lock held.
func (s *RoomStore) Range(fn func(*app.Room) bool) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		rooms := make([]*app.Room, 0, len(sh.rooms))
		for _, room := range sh.rooms {
			rooms = append(rooms, room)
		}
		sh.mu.RUnlock()

		for _, room := range rooms {
			if !fn(room) {
				return
			}
		}
	}
}

func (s *RoomStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.rooms)
		sh.mu.RUnlock()
	}
	return n
}

// Touch is a no-op; memory entries do not expire.
func (s *RoomStore) Touch(context.Context, *app.Room) {}
