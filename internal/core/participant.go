package core

import (
	"encoding/json"

	"github.com/velored/meetmedia/internal/domain"
	"github.com/velored/meetmedia/internal/media"
)

// participant is one connection's media state inside a room: at most one
// transport per direction plus the producers and consumers it owns. It is
// only ever touched under the owning room's lock.
type participant struct {
	id          domain.PeerID
	displayName string
	signal      SignalConnection

	send media.Transport
	recv media.Transport

	producers map[string]media.Producer
	consumers map[string]media.Consumer
}

func newParticipant(id domain.PeerID, displayName string, sig SignalConnection) *participant {
	return &participant{
		id:          id,
		displayName: displayName,
		signal:      sig,
		producers:   make(map[string]media.Producer),
		consumers:   make(map[string]media.Consumer),
	}
}

func (p *participant) transport(dir media.Direction) media.Transport {
	if dir == media.DirectionSend {
		return p.send
	}
	return p.recv
}

func (p *participant) setTransport(dir media.Direction, t media.Transport) {
	if dir == media.DirectionSend {
		p.send = t
	} else {
		p.recv = t
	}
}

func (p *participant) transportByID(id string) media.Transport {
	if p.send != nil && p.send.ID() == id {
		return p.send
	}
	if p.recv != nil && p.recv.ID() == id {
		return p.recv
	}
	return nil
}

// ParticipantInfo is a read-only view for snapshots and notifications.
type ParticipantInfo struct {
	ID          domain.PeerID `json:"peerId"`
	DisplayName string        `json:"displayName"`
}

// ProducerInfo describes one live producer in a room.
type ProducerInfo struct {
	ProducerID    string        `json:"producerId"`
	ParticipantID domain.PeerID `json:"participantId"`
	Kind          media.Kind    `json:"kind"`
}

// ConsumerInfo is what a consume request returns to its caller.
type ConsumerInfo struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          media.Kind      `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// ClosedConsumer reports one consumer force-closed because its source
// producer went away. Owner is still a room member and must be notified.
type ClosedConsumer struct {
	Owner      domain.PeerID
	ConsumerID string
}
