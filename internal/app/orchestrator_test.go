package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velored/meetmedia/internal/app"
	"github.com/velored/meetmedia/internal/core"
	"github.com/velored/meetmedia/internal/domain"
	"github.com/velored/meetmedia/internal/media"
	"github.com/velored/meetmedia/internal/media/mediatest"
)

// fakePresence is an in-memory stand-in for the shared cache.
type fakePresence struct {
	mu     sync.Mutex
	known  map[domain.RoomCode]bool
	counts map[domain.RoomCode]int
}

func newFakePresence(codes ...domain.RoomCode) *fakePresence {
	p := &fakePresence{
		known:  make(map[domain.RoomCode]bool),
		counts: make(map[domain.RoomCode]int),
	}
	for _, c := range codes {
		p.known[c] = true
	}
	return p
}

func (p *fakePresence) Exists(_ context.Context, code domain.RoomCode) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.known[code], nil
}

func (p *fakePresence) Increment(_ context.Context, code domain.RoomCode) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[code]++
	return p.counts[code], nil
}

func (p *fakePresence) Decrement(_ context.Context, code domain.RoomCode) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[code] > 0 {
		p.counts[code]--
	}
	return p.counts[code], nil
}

func (p *fakePresence) SetCount(_ context.Context, code domain.RoomCode, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[code] = n
	return nil
}

func (p *fakePresence) count(code domain.RoomCode) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[code]
}

// fakeSignal records notifications delivered to a peer.
type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (f *fakeSignal) TrySend(frame core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSignal) Close() {}

type wireNote struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (f *fakeSignal) notifications(t *testing.T) []wireNote {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wireNote, 0, len(f.frames))
	for _, frame := range f.frames {
		var n wireNote
		require.NoError(t, json.Unmarshal(frame, &n))
		out = append(out, n)
	}
	return out
}

func (f *fakeSignal) typed(t *testing.T, typ string) []wireNote {
	var out []wireNote
	for _, n := range f.notifications(t) {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func newOrchestrator(t *testing.T, codes ...domain.RoomCode) (*app.Orchestrator, *fakePresence, *mediatest.Engine) {
	t.Helper()
	eng := mediatest.NewEngine()
	pool, err := core.NewWorkerPool(context.Background(), eng, 2, nil)
	require.NoError(t, err)
	pres := newFakePresence(codes...)
	orch := &app.Orchestrator{
		Registry: core.NewRegistry(pool),
		Presence: pres,
	}
	return orch, pres, eng
}

func TestJoinUnknownRoom(t *testing.T) {
	orch, _, eng := newOrchestrator(t)
	_, err := orch.Join(context.Background(), "NOPE42", "p1", "alice", &fakeSignal{})
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
	require.Equal(t, int32(0), eng.RoutersCreated.Load())
}

func TestOperationsBeforeJoin(t *testing.T) {
	orch, _, _ := newOrchestrator(t, "ABC123")
	ctx := context.Background()

	_, err := orch.CreateTransport(ctx, "ABC123", "p1", media.DirectionSend)
	require.ErrorIs(t, err, domain.ErrNotInRoom)
	err = orch.ConnectTransport(ctx, "ABC123", "p1", "t", nil)
	require.ErrorIs(t, err, domain.ErrNotInRoom)
	_, err = orch.Produce(ctx, "ABC123", "p1", "t", media.KindVideo, nil)
	require.ErrorIs(t, err, domain.ErrNotInRoom)
}

// TestMeetingScenario walks the canonical two-participant meeting:
// P1 joins and produces video, P2 joins and consumes it, then both
// disconnect and the room winds down.
func TestMeetingScenario(t *testing.T) {
	orch, pres, eng := newOrchestrator(t, "ABC123")
	ctx := context.Background()

	s1 := &fakeSignal{}
	caps, err := orch.Join(ctx, "ABC123", "p1", "alice", s1)
	require.NoError(t, err)
	require.NotEmpty(t, caps)
	require.Equal(t, 1, pres.count("ABC123"))

	sendInfo, err := orch.CreateTransport(ctx, "ABC123", "p1", media.DirectionSend)
	require.NoError(t, err)
	require.NoError(t, orch.ConnectTransport(ctx, "ABC123", "p1", sendInfo.ID, json.RawMessage(`{}`)))

	producerID, err := orch.Produce(ctx, "ABC123", "p1", sendInfo.ID, media.KindVideo, json.RawMessage(`{}`))
	require.NoError(t, err)

	s2 := &fakeSignal{}
	_, err = orch.Join(ctx, "ABC123", "p2", "bob", s2)
	require.NoError(t, err)
	require.Equal(t, 2, pres.count("ABC123"))

	// P1 was told about P2; P2 joined after the broadcast so it saw nothing.
	joined := s1.typed(t, "new-participant")
	require.Len(t, joined, 1)

	// Late joiner discovers the existing producer via the snapshot.
	producers, err := orch.ListProducers("ABC123", "p2")
	require.NoError(t, err)
	require.Len(t, producers, 1)
	require.Equal(t, producerID, producers[0].ProducerID)

	recvInfo, err := orch.CreateTransport(ctx, "ABC123", "p2", media.DirectionRecv)
	require.NoError(t, err)
	require.NoError(t, orch.ConnectTransport(ctx, "ABC123", "p2", recvInfo.ID, json.RawMessage(`{}`)))

	consumerInfo, err := orch.Consume(ctx, "ABC123", "p2", recvInfo.ID, producerID, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, producerID, consumerInfo.ProducerID)
	require.Equal(t, media.KindVideo, consumerInfo.Kind)

	require.NoError(t, orch.ResumeConsumer("ABC123", "p2", consumerInfo.ID))

	// P1 disconnects: P2 is told the peer left and its consumer died.
	orch.Leave(ctx, "ABC123", "p1")
	require.Equal(t, 1, pres.count("ABC123"))

	left := s2.typed(t, "participant-left")
	require.Len(t, left, 1)
	var leftData struct {
		PeerID string `json:"peerId"`
	}
	require.NoError(t, json.Unmarshal(left[0].Data, &leftData))
	require.Equal(t, "p1", leftData.PeerID)

	closed := s2.typed(t, "consumer-closed")
	require.Len(t, closed, 1)
	var closedData struct {
		ConsumerID string `json:"consumerId"`
	}
	require.NoError(t, json.Unmarshal(closed[0].Data, &closedData))
	require.Equal(t, consumerInfo.ID, closedData.ConsumerID)

	// Last participant out destroys the room.
	orch.Leave(ctx, "ABC123", "p2")
	require.Equal(t, 0, pres.count("ABC123"))
	require.Equal(t, 0, orch.Registry.Len())

	// Rejoining builds a fresh routing context with an empty table.
	s3 := &fakeSignal{}
	_, err = orch.Join(ctx, "ABC123", "p3", "carol", s3)
	require.NoError(t, err)
	require.Equal(t, int32(2), eng.RoutersCreated.Load())
	room, ok := orch.Registry.Get("ABC123")
	require.True(t, ok)
	require.Equal(t, 1, room.Size())
}

func TestLeaveThenDisconnectDecrementsOnce(t *testing.T) {
	orch, pres, _ := newOrchestrator(t, "ABC123")
	ctx := context.Background()

	_, err := orch.Join(ctx, "ABC123", "p1", "alice", &fakeSignal{})
	require.NoError(t, err)
	_, err = orch.Join(ctx, "ABC123", "p2", "bob", &fakeSignal{})
	require.NoError(t, err)
	require.Equal(t, 2, pres.count("ABC123"))

	// Explicit leave, then the socket teardown fires the same path again.
	orch.Leave(ctx, "ABC123", "p1")
	orch.Leave(ctx, "ABC123", "p1")
	require.Equal(t, 1, pres.count("ABC123"))

	orch.Leave(ctx, "ABC123", "p2")
	orch.Leave(ctx, "ABC123", "p2")
	require.Equal(t, 0, pres.count("ABC123"))
}

func TestCounterMatchesJoinedParticipants(t *testing.T) {
	orch, pres, _ := newOrchestrator(t, "ABC123")
	ctx := context.Background()

	peers := []domain.PeerID{"p1", "p2", "p3", "p4"}
	for _, p := range peers {
		_, err := orch.Join(ctx, "ABC123", p, string(p), &fakeSignal{})
		require.NoError(t, err)
	}
	require.Equal(t, len(peers), pres.count("ABC123"))

	for i, p := range peers {
		orch.Leave(ctx, "ABC123", p)
		require.Equal(t, len(peers)-i-1, pres.count("ABC123"))
	}
	// Stray extra leaves never push the counter negative.
	orch.Leave(ctx, "ABC123", "p1")
	require.Equal(t, 0, pres.count("ABC123"))
}

func TestConsumeUnknownProducerMutatesNothing(t *testing.T) {
	orch, _, _ := newOrchestrator(t, "ABC123")
	ctx := context.Background()

	s1 := &fakeSignal{}
	_, err := orch.Join(ctx, "ABC123", "p1", "alice", s1)
	require.NoError(t, err)
	recvInfo, err := orch.CreateTransport(ctx, "ABC123", "p1", media.DirectionRecv)
	require.NoError(t, err)

	_, err = orch.Consume(ctx, "ABC123", "p1", recvInfo.ID, "no-such-producer", json.RawMessage(`{}`))
	require.ErrorIs(t, err, domain.ErrCannotConsume)

	// No consumer was created, so a later release reports none closed.
	room, ok := orch.Registry.Get("ABC123")
	require.True(t, ok)
	_, closed, released := room.Release("p1")
	require.True(t, released)
	require.Empty(t, closed)
}

func TestConcurrentJoinsSameRoom(t *testing.T) {
	orch, pres, eng := newOrchestrator(t, "ABC123")
	ctx := context.Background()

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			peer := domain.PeerID(fmt.Sprintf("peer-%d", i))
			_, errs[i] = orch.Join(ctx, "ABC123", peer, "user", &fakeSignal{})
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	require.Equal(t, int32(1), eng.RoutersCreated.Load())
	require.Equal(t, n, pres.count("ABC123"))
}
