package core_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velored/meetmedia/internal/core"
	"github.com/velored/meetmedia/internal/domain"
	"github.com/velored/meetmedia/internal/media"
	"github.com/velored/meetmedia/internal/media/mediatest"
)

// fakeSignal records every frame a member would have received.
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

func (f *fakeSignal) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func newTestRoom(t *testing.T) *core.Room {
	t.Helper()
	eng := mediatest.NewEngine()
	w, err := eng.NewWorker(context.Background())
	require.NoError(t, err)
	router, err := w.CreateRouter(context.Background())
	require.NoError(t, err)
	return core.NewRoom("ABC123", w, router)
}

func join(t *testing.T, r *core.Room, id domain.PeerID) *fakeSignal {
	t.Helper()
	sig := &fakeSignal{}
	require.NoError(t, r.Register(id, "user-"+string(id), sig))
	return sig
}

func TestRoomRegisterDuplicate(t *testing.T) {
	r := newTestRoom(t)
	join(t, r, "p1")
	err := r.Register("p1", "again", &fakeSignal{})
	require.ErrorIs(t, err, domain.ErrAlreadyJoined)
	require.Equal(t, 1, r.Size())

	members := r.Participants()
	require.Len(t, members, 1)
	require.Equal(t, domain.PeerID("p1"), members[0].ID)
	require.Equal(t, "user-p1", members[0].DisplayName)
}

func TestRoomTransportPerDirection(t *testing.T) {
	ctx := context.Background()
	r := newTestRoom(t)
	join(t, r, "p1")

	info, err := r.CreateTransport(ctx, "p1", media.DirectionSend)
	require.NoError(t, err)
	require.NotEmpty(t, info.ID)
	require.NotNil(t, info.ICEParameters)
	require.NotNil(t, info.DTLSParameters)

	_, err = r.CreateTransport(ctx, "p1", media.DirectionSend)
	require.ErrorIs(t, err, domain.ErrTransportExists)

	_, err = r.CreateTransport(ctx, "p1", media.DirectionRecv)
	require.NoError(t, err)

	_, err = r.CreateTransport(ctx, "ghost", media.DirectionSend)
	require.ErrorIs(t, err, domain.ErrNotInRoom)
}

func TestRoomConnectTransport(t *testing.T) {
	ctx := context.Background()
	r := newTestRoom(t)
	join(t, r, "p1")
	info, err := r.CreateTransport(ctx, "p1", media.DirectionSend)
	require.NoError(t, err)

	require.NoError(t, r.ConnectTransport(ctx, "p1", info.ID, json.RawMessage(`{"role":"client"}`)))

	err = r.ConnectTransport(ctx, "p1", "no-such-transport", nil)
	require.ErrorIs(t, err, domain.ErrTransportNotFound)
}

func TestRoomProducePreconditions(t *testing.T) {
	ctx := context.Background()
	r := newTestRoom(t)
	join(t, r, "p1")

	_, err := r.Produce(ctx, "p1", "whatever", media.KindVideo, nil)
	require.ErrorIs(t, err, domain.ErrSendTransportNotFound)

	send, err := r.CreateTransport(ctx, "p1", media.DirectionSend)
	require.NoError(t, err)

	// A recv transport id on produce is still "send transport not found".
	recv, err := r.CreateTransport(ctx, "p1", media.DirectionRecv)
	require.NoError(t, err)
	_, err = r.Produce(ctx, "p1", recv.ID, media.KindVideo, nil)
	require.ErrorIs(t, err, domain.ErrSendTransportNotFound)

	id, err := r.Produce(ctx, "p1", send.ID, media.KindVideo, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	producers := r.Producers()
	require.Len(t, producers, 1)
	require.Equal(t, id, producers[0].ProducerID)
	require.Equal(t, domain.PeerID("p1"), producers[0].ParticipantID)
	require.Equal(t, media.KindVideo, producers[0].Kind)
}

func TestRoomConsume(t *testing.T) {
	ctx := context.Background()
	r := newTestRoom(t)
	join(t, r, "p1")
	join(t, r, "p2")

	send, err := r.CreateTransport(ctx, "p1", media.DirectionSend)
	require.NoError(t, err)
	producerID, err := r.Produce(ctx, "p1", send.ID, media.KindVideo, nil)
	require.NoError(t, err)

	_, err = r.Consume(ctx, "p2", "nope", producerID, nil)
	require.ErrorIs(t, err, domain.ErrRecvTransportNotFound)

	recv, err := r.CreateTransport(ctx, "p2", media.DirectionRecv)
	require.NoError(t, err)

	_, err = r.Consume(ctx, "p2", recv.ID, "no-such-producer", nil)
	require.ErrorIs(t, err, domain.ErrCannotConsume)

	info, err := r.Consume(ctx, "p2", recv.ID, producerID, nil)
	require.NoError(t, err)
	require.Equal(t, producerID, info.ProducerID)
	require.Equal(t, media.KindVideo, info.Kind)
	require.NotEmpty(t, info.ID)

	require.NoError(t, r.ResumeConsumer("p2", info.ID))
	require.ErrorIs(t, r.ResumeConsumer("p2", "no-such-consumer"), domain.ErrConsumerNotFound)
}

func TestRoomConsumeIncompatible(t *testing.T) {
	ctx := context.Background()
	eng := mediatest.NewEngine()
	w, err := eng.NewWorker(ctx)
	require.NoError(t, err)
	routerIface, err := w.CreateRouter(ctx)
	require.NoError(t, err)
	router := routerIface.(*mediatest.Router)
	router.CanConsumeFn = func(string, json.RawMessage) bool { return false }

	r := core.NewRoom("ABC123", w, router)
	join(t, r, "p1")
	join(t, r, "p2")
	send, err := r.CreateTransport(ctx, "p1", media.DirectionSend)
	require.NoError(t, err)
	producerID, err := r.Produce(ctx, "p1", send.ID, media.KindVideo, nil)
	require.NoError(t, err)
	recv, err := r.CreateTransport(ctx, "p2", media.DirectionRecv)
	require.NoError(t, err)

	_, err = r.Consume(ctx, "p2", recv.ID, producerID, nil)
	require.ErrorIs(t, err, domain.ErrCannotConsume)
}

func TestRoomReleaseClosesDependents(t *testing.T) {
	ctx := context.Background()
	r := newTestRoom(t)
	join(t, r, "p1")
	join(t, r, "p2")
	join(t, r, "p3")

	send, err := r.CreateTransport(ctx, "p1", media.DirectionSend)
	require.NoError(t, err)
	producerID, err := r.Produce(ctx, "p1", send.ID, media.KindVideo, nil)
	require.NoError(t, err)

	var consumerIDs []string
	for _, peer := range []domain.PeerID{"p2", "p3"} {
		recv, err := r.CreateTransport(ctx, peer, media.DirectionRecv)
		require.NoError(t, err)
		info, err := r.Consume(ctx, peer, recv.ID, producerID, nil)
		require.NoError(t, err)
		consumerIDs = append(consumerIDs, info.ID)
	}

	remaining, closed, ok := r.Release("p1")
	require.True(t, ok)
	require.Equal(t, 2, remaining)
	// Exactly one closed-consumer report per dependent consumer.
	require.Len(t, closed, 2)
	owners := map[domain.PeerID]string{}
	for _, cc := range closed {
		owners[cc.Owner] = cc.ConsumerID
	}
	require.Contains(t, owners, domain.PeerID("p2"))
	require.Contains(t, owners, domain.PeerID("p3"))
	require.Contains(t, consumerIDs, owners["p2"])
	require.Contains(t, consumerIDs, owners["p3"])

	require.Empty(t, r.Producers())

	// Release is effectively-once.
	remaining, closed, ok = r.Release("p1")
	require.False(t, ok)
	require.Equal(t, 2, remaining)
	require.Empty(t, closed)
}

func TestRoomBroadcastExcludesOrigin(t *testing.T) {
	r := newTestRoom(t)
	s1 := join(t, r, "p1")
	s2 := join(t, r, "p2")
	s3 := join(t, r, "p3")

	r.Broadcast("p1", core.Frame(`{"type":"x"}`))
	require.Equal(t, 0, s1.count())
	require.Equal(t, 1, s2.count())
	require.Equal(t, 1, s3.count())

	require.NoError(t, r.Send("p2", core.Frame(`{"type":"y"}`)))
	require.Equal(t, 2, s2.count())
	require.ErrorIs(t, r.Send("ghost", core.Frame(`{}`)), domain.ErrNotInRoom)
}

func TestRoomCloseIfEmpty(t *testing.T) {
	r := newTestRoom(t)
	join(t, r, "p1")
	require.False(t, r.CloseIfEmpty())
	require.False(t, r.Closed())

	_, _, ok := r.Release("p1")
	require.True(t, ok)
	require.True(t, r.CloseIfEmpty())
	require.True(t, r.Closed())

	// Closed room rejects registration.
	err := r.Register("p2", "late", &fakeSignal{})
	require.ErrorIs(t, err, domain.ErrRoomClosed)
}
