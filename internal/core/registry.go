package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/velored/meetmedia/internal/domain"
)

// Registry maps room codes to live rooms. Creation is exclusive per code:
// concurrent callers racing on the same code share a single entry whose
// sync.Once performs the one router creation, so one creator wins and the
// rest reuse the result. Callers are expected to have validated the code
// against the presence store already.
type Registry struct {
	pool *WorkerPool

	mu    sync.Mutex
	rooms map[domain.RoomCode]*roomEntry
}

type roomEntry struct {
	once sync.Once
	room *Room
	err  error
}

func NewRegistry(pool *WorkerPool) *Registry {
	return &Registry{
		pool:  pool,
		rooms: make(map[domain.RoomCode]*roomEntry),
	}
}

// GetOrCreate resolves the routing context for a code, creating the router
// on the next pooled worker if none exists. An entry left behind by a
// concurrent destroy is detected via the room's closed flag and replaced
// with a fresh context.
func (g *Registry) GetOrCreate(ctx context.Context, code domain.RoomCode) (*Room, error) {
	for {
		g.mu.Lock()
		e, ok := g.rooms[code]
		if !ok {
			e = &roomEntry{}
			g.rooms[code] = e
		}
		g.mu.Unlock()

		e.once.Do(func() {
			worker := g.pool.Next()
			router, err := worker.CreateRouter(ctx)
			if err != nil {
				e.err = err
				return
			}
			e.room = NewRoom(code, worker, router)
			log.Info().Str("module", "core.registry").Str("room", string(code)).
				Str("worker", worker.ID()).Str("router", router.ID()).Msg("created router for room")
		})

		if e.err != nil {
			g.remove(code, e)
			return nil, e.err
		}
		if e.room.Closed() {
			g.remove(code, e)
			continue
		}
		return e.room, nil
	}
}

// Get returns the room for a code without creating one.
func (g *Registry) Get(code domain.RoomCode) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.rooms[code]
	if !ok || e.room == nil || e.room.Closed() {
		return nil, false
	}
	return e.room, true
}

// Destroy force-closes and removes a room. Idempotent: a second call, or a
// call racing a concurrent create, finds nothing to do.
func (g *Registry) Destroy(code domain.RoomCode) {
	g.mu.Lock()
	e, ok := g.rooms[code]
	if ok {
		delete(g.rooms, code)
	}
	g.mu.Unlock()
	if ok && e.room != nil {
		e.room.Close()
	}
}

// DestroyIfEmpty removes the room only if its participant table is empty.
// Returns true when the room was actually destroyed.
func (g *Registry) DestroyIfEmpty(code domain.RoomCode) bool {
	g.mu.Lock()
	e, ok := g.rooms[code]
	if !ok || e.room == nil {
		g.mu.Unlock()
		return false
	}
	if !e.room.CloseIfEmpty() {
		g.mu.Unlock()
		return false
	}
	delete(g.rooms, code)
	g.mu.Unlock()
	return true
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close tears down every room, for process shutdown.
func (g *Registry) Close() {
	g.mu.Lock()
	entries := make([]*roomEntry, 0, len(g.rooms))
	for _, e := range g.rooms {
		entries = append(entries, e)
	}
	g.rooms = make(map[domain.RoomCode]*roomEntry)
	g.mu.Unlock()
	for _, e := range entries {
		if e.room != nil {
			e.room.Close()
		}
	}
}

func (g *Registry) remove(code domain.RoomCode, e *roomEntry) {
	g.mu.Lock()
	if cur, ok := g.rooms[code]; ok && cur == e {
		delete(g.rooms, code)
	}
	g.mu.Unlock()
}
