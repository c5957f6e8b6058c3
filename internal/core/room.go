package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/velored/meetmedia/internal/domain"
	"github.com/velored/meetmedia/internal/media"
)

// Room is one routing context: a router on an assigned worker plus the
// participant table. All mutation happens under the room's own lock, engine
// calls included, so a single room's signaling is serialized while separate
// rooms never contend.
type Room struct {
	code      domain.RoomCode
	worker    media.Worker
	router    media.Router
	createdAt time.Time

	mu           sync.Mutex
	participants map[domain.PeerID]*participant
	closed       bool
}

func NewRoom(code domain.RoomCode, worker media.Worker, router media.Router) *Room {
	return &Room{
		code:         code,
		worker:       worker,
		router:       router,
		createdAt:    time.Now(),
		participants: make(map[domain.PeerID]*participant),
	}
}

func (r *Room) Code() domain.RoomCode { return r.code }
func (r *Room) CreatedAt() time.Time  { return r.createdAt }

func (r *Room) RTPCapabilities() json.RawMessage {
	return r.router.RTPCapabilities()
}

func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Register inserts a new participant. Each physical connection carries a
// fresh PeerID, so an existing entry is a protocol violation, not a
// reconnect.
func (r *Room) Register(id domain.PeerID, displayName string, sig SignalConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrRoomClosed
	}
	if _, ok := r.participants[id]; ok {
		return domain.ErrAlreadyJoined
	}
	r.participants[id] = newParticipant(id, displayName, sig)
	log.Info().Str("module", "core.room").Str("room", string(r.code)).Str("peer", string(id)).Msg("participant joined")
	return nil
}

// Participants returns a snapshot of the current member list.
func (r *Room) Participants() []ParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ParticipantInfo, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, ParticipantInfo{ID: p.id, DisplayName: p.displayName})
	}
	return out
}

// Producers returns every live producer in the room with its owner.
func (r *Room) Producers() []ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProducerInfo
	for _, p := range r.participants {
		for id, prod := range p.producers {
			out = append(out, ProducerInfo{ProducerID: id, ParticipantID: p.id, Kind: prod.Kind()})
		}
	}
	return out
}

// CreateTransport asks the router for a transport of the given direction
// and attaches it to the participant. A second transport for the same
// direction is rejected: reusing would leave the first one's client-side
// ICE state dangling.
func (r *Room) CreateTransport(ctx context.Context, id domain.PeerID, dir media.Direction) (media.TransportInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return media.TransportInfo{}, domain.ErrNotInRoom
	}
	if p.transport(dir) != nil {
		return media.TransportInfo{}, domain.ErrTransportExists
	}
	t, err := r.router.CreateTransport(ctx)
	if err != nil {
		return media.TransportInfo{}, err
	}
	p.setTransport(dir, t)
	return t.Info(), nil
}

// ConnectTransport finalizes the handshake of a transport the caller owns.
func (r *Room) ConnectTransport(ctx context.Context, id domain.PeerID, transportID string, dtlsParameters json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.ErrNotInRoom
	}
	t := p.transportByID(transportID)
	if t == nil {
		return domain.ErrTransportNotFound
	}
	return t.Connect(ctx, dtlsParameters)
}

// Produce creates a producer on the caller's send transport.
func (r *Room) Produce(ctx context.Context, id domain.PeerID, transportID string, kind media.Kind, rtpParameters json.RawMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return "", domain.ErrNotInRoom
	}
	if p.send == nil || p.send.ID() != transportID {
		return "", domain.ErrSendTransportNotFound
	}
	producer, err := p.send.Produce(ctx, kind, rtpParameters)
	if err != nil {
		return "", err
	}
	p.producers[producer.ID()] = producer
	return producer.ID(), nil
}

// Consume binds a paused consumer on the caller's recv transport to an
// existing producer. The producer must live in this room and the router
// must confirm capability compatibility; both failures surface as
// ErrCannotConsume so the client cannot distinguish a bad id from a codec
// mismatch it equally cannot fix.
func (r *Room) Consume(ctx context.Context, id domain.PeerID, transportID, producerID string, rtpCapabilities json.RawMessage) (ConsumerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return ConsumerInfo{}, domain.ErrNotInRoom
	}
	if p.recv == nil || p.recv.ID() != transportID {
		return ConsumerInfo{}, domain.ErrRecvTransportNotFound
	}
	if !r.hasProducer(producerID) {
		return ConsumerInfo{}, domain.ErrCannotConsume
	}
	if !r.router.CanConsume(producerID, rtpCapabilities) {
		return ConsumerInfo{}, domain.ErrCannotConsume
	}
	consumer, err := p.recv.Consume(ctx, producerID, rtpCapabilities)
	if err != nil {
		return ConsumerInfo{}, err
	}
	p.consumers[consumer.ID()] = consumer
	return ConsumerInfo{
		ID:            consumer.ID(),
		ProducerID:    consumer.ProducerID(),
		Kind:          consumer.Kind(),
		RTPParameters: consumer.RTPParameters(),
	}, nil
}

// ResumeConsumer unpauses a consumer the caller owns.
func (r *Room) ResumeConsumer(id domain.PeerID, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.ErrNotInRoom
	}
	c, ok := p.consumers[consumerID]
	if !ok {
		return domain.ErrConsumerNotFound
	}
	return c.Resume()
}

func (r *Room) hasProducer(producerID string) bool {
	for _, p := range r.participants {
		if _, ok := p.producers[producerID]; ok {
			return true
		}
	}
	return false
}

// Release tears down everything the participant owns: producers first (so
// dependent consumers elsewhere in the room are force-closed and reported),
// then its own consumers, then transports, then the table entry. A second
// call for the same peer is a no-op with ok=false, which is what makes
// leave-then-disconnect decrement presence exactly once.
func (r *Room) Release(id domain.PeerID) (remaining int, closed []ClosedConsumer, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, found := r.participants[id]
	if !found {
		return len(r.participants), nil, false
	}

	for producerID, producer := range p.producers {
		producer.Close()
		closed = append(closed, r.closeDependentsLocked(id, producerID)...)
	}
	for _, c := range p.consumers {
		c.Close()
	}
	if p.send != nil {
		p.send.Close()
	}
	if p.recv != nil {
		p.recv.Close()
	}
	delete(r.participants, id)
	log.Info().Str("module", "core.room").Str("room", string(r.code)).Str("peer", string(id)).
		Int("remaining", len(r.participants)).Msg("participant released")
	return len(r.participants), closed, true
}

// closeDependentsLocked force-closes every consumer in the room bound to
// the producer, except those owned by the peer being released.
func (r *Room) closeDependentsLocked(except domain.PeerID, producerID string) []ClosedConsumer {
	var out []ClosedConsumer
	for _, other := range r.participants {
		if other.id == except {
			continue
		}
		for consumerID, c := range other.consumers {
			if c.ProducerID() != producerID {
				continue
			}
			c.Close()
			delete(other.consumers, consumerID)
			out = append(out, ClosedConsumer{Owner: other.id, ConsumerID: consumerID})
		}
	}
	return out
}

// Broadcast fans a frame out to every member but the originator.
// Delivery is best effort; a slow peer just misses the notification.
func (r *Room) Broadcast(except domain.PeerID, frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.participants {
		if id == except {
			continue
		}
		if err := p.signal.TrySend(frame); err != nil {
			log.Debug().Str("module", "core.room").Str("room", string(r.code)).Str("peer", string(id)).
				Err(err).Msg("notification dropped")
		}
	}
}

// Send delivers a frame to a single member.
func (r *Room) Send(to domain.PeerID, frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[to]
	if !ok {
		return domain.ErrNotInRoom
	}
	return p.signal.TrySend(frame)
}

// CloseIfEmpty closes the room only if no participant is registered. The
// size check and the closed flag flip share the room lock, so a racing
// Register either lands before the check or observes ErrRoomClosed.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	if r.closed || len(r.participants) > 0 {
		r.mu.Unlock()
		return false
	}
	r.closed = true
	r.mu.Unlock()
	r.router.Close()
	log.Info().Str("module", "core.room").Str("room", string(r.code)).Msg("room destroyed")
	return true
}

// Close force-closes the room regardless of occupancy. The router close
// propagates to every live transport, producer and consumer on the engine
// side. Idempotent.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.participants = make(map[domain.PeerID]*participant)
	r.mu.Unlock()
	r.router.Close()
	log.Info().Str("module", "core.room").Str("room", string(r.code)).Msg("room force closed")
}
