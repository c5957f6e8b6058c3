// Package app implements the signaling semantics: every operation the
// protocol defines, validated against session state, driven through the
// room's routing context and mirrored into the presence store.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/velored/meetmedia/internal/core"
	"github.com/velored/meetmedia/internal/domain"
	"github.com/velored/meetmedia/internal/media"
	"github.com/velored/meetmedia/internal/telemetry"
)

// PresenceStore is the external cache contract: room existence plus the
// live participant counter the room CRUD service reads.
type PresenceStore interface {
	Exists(ctx context.Context, code domain.RoomCode) (bool, error)
	Increment(ctx context.Context, code domain.RoomCode) (int, error)
	Decrement(ctx context.Context, code domain.RoomCode) (int, error)
	SetCount(ctx context.Context, code domain.RoomCode, n int) error
}

type Orchestrator struct {
	Registry *core.Registry
	Presence PresenceStore
}

// notification is the wire shape of server-initiated messages.
type notification struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func notify(typ string, data any) core.Frame {
	b, err := json.Marshal(notification{Type: typ, Data: data})
	if err != nil {
		log.Error().Str("module", "app").Str("type", typ).Err(err).Msg("marshal notification")
		return nil
	}
	return b
}

// Join validates the room code against the presence store (the single
// place room existence is checked), resolves or creates the routing
// context, registers the participant and announces it. Returns the
// router's media capabilities for the client's device negotiation.
func (o *Orchestrator) Join(ctx context.Context, code domain.RoomCode, peer domain.PeerID, displayName string, sig core.SignalConnection) (json.RawMessage, error) {
	known, err := o.Presence.Exists(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("presence lookup: %w", err)
	}
	if !known {
		return nil, domain.ErrRoomNotFound
	}

	for {
		room, err := o.Registry.GetOrCreate(ctx, code)
		if err != nil {
			return nil, err
		}
		if err := room.Register(peer, displayName, sig); err != nil {
			// Lost a race against the room's destruction; the registry
			// will hand out a fresh context on the next pass.
			if errors.Is(err, domain.ErrRoomClosed) {
				continue
			}
			return nil, err
		}

		count, err := o.Presence.Increment(ctx, code)
		if err != nil {
			log.Warn().Str("module", "app").Str("room", string(code)).Err(err).Msg("presence increment failed")
		}
		telemetry.ActiveParticipants.Inc()
		telemetry.ActiveRooms.Set(float64(o.Registry.Len()))

		room.Broadcast(peer, notify("new-participant", core.ParticipantInfo{ID: peer, DisplayName: displayName}))
		log.Info().Str("module", "app").Str("room", string(code)).Str("peer", string(peer)).
			Int("count", count).Msg("participant joined room")
		return room.RTPCapabilities(), nil
	}
}

func (o *Orchestrator) CreateTransport(ctx context.Context, code domain.RoomCode, peer domain.PeerID, dir media.Direction) (media.TransportInfo, error) {
	room, ok := o.Registry.Get(code)
	if !ok {
		return media.TransportInfo{}, domain.ErrNotInRoom
	}
	return room.CreateTransport(ctx, peer, dir)
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, code domain.RoomCode, peer domain.PeerID, transportID string, dtlsParameters json.RawMessage) error {
	room, ok := o.Registry.Get(code)
	if !ok {
		return domain.ErrNotInRoom
	}
	return room.ConnectTransport(ctx, peer, transportID, dtlsParameters)
}

// Produce creates the producer and announces it to the rest of the room so
// members can decide to consume it.
func (o *Orchestrator) Produce(ctx context.Context, code domain.RoomCode, peer domain.PeerID, transportID string, kind media.Kind, rtpParameters json.RawMessage) (string, error) {
	room, ok := o.Registry.Get(code)
	if !ok {
		return "", domain.ErrNotInRoom
	}
	producerID, err := room.Produce(ctx, peer, transportID, kind, rtpParameters)
	if err != nil {
		return "", err
	}
	room.Broadcast(peer, notify("new-producer", core.ProducerInfo{
		ProducerID:    producerID,
		ParticipantID: peer,
		Kind:          kind,
	}))
	return producerID, nil
}

func (o *Orchestrator) Consume(ctx context.Context, code domain.RoomCode, peer domain.PeerID, transportID, producerID string, rtpCapabilities json.RawMessage) (core.ConsumerInfo, error) {
	room, ok := o.Registry.Get(code)
	if !ok {
		return core.ConsumerInfo{}, domain.ErrNotInRoom
	}
	return room.Consume(ctx, peer, transportID, producerID, rtpCapabilities)
}

func (o *Orchestrator) ResumeConsumer(code domain.RoomCode, peer domain.PeerID, consumerID string) error {
	room, ok := o.Registry.Get(code)
	if !ok {
		return domain.ErrNotInRoom
	}
	return room.ResumeConsumer(peer, consumerID)
}

// ListProducers snapshots the producers a late joiner can consume.
func (o *Orchestrator) ListProducers(code domain.RoomCode, peer domain.PeerID) ([]core.ProducerInfo, error) {
	room, ok := o.Registry.Get(code)
	if !ok {
		return nil, domain.ErrNotInRoom
	}
	return room.Producers(), nil
}

type peerLeft struct {
	PeerID domain.PeerID `json:"peerId"`
}

type consumerClosed struct {
	ConsumerID string `json:"consumerId"`
}

// Leave releases everything the participant owns and is the single release
// path for both leave-room and socket disconnect. The room's table decides
// whether anything actually happened, so the presence counter moves at most
// once per participant no matter how the two events interleave.
func (o *Orchestrator) Leave(ctx context.Context, code domain.RoomCode, peer domain.PeerID) {
	room, ok := o.Registry.Get(code)
	if !ok {
		return
	}
	remaining, closedConsumers, released := room.Release(peer)
	if !released {
		return
	}

	count, err := o.Presence.Decrement(ctx, code)
	if err != nil {
		log.Warn().Str("module", "app").Str("room", string(code)).Err(err).Msg("presence decrement failed")
	}
	telemetry.ActiveParticipants.Dec()

	for _, cc := range closedConsumers {
		if err := room.Send(cc.Owner, notify("consumer-closed", consumerClosed{ConsumerID: cc.ConsumerID})); err != nil {
			log.Debug().Str("module", "app").Str("room", string(code)).Str("peer", string(cc.Owner)).
				Err(err).Msg("consumer-closed notification dropped")
		}
	}
	room.Broadcast(peer, notify("participant-left", peerLeft{PeerID: peer}))

	log.Info().Str("module", "app").Str("room", string(code)).Str("peer", string(peer)).
		Int("count", count).Msg("participant left room")

	if remaining == 0 && o.Registry.DestroyIfEmpty(code) {
		telemetry.ActiveRooms.Set(float64(o.Registry.Len()))
	}
}
