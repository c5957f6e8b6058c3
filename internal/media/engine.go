// Package media defines the capability interface the orchestration layer
// uses to talk to the media engine. The engine owns all RTP/ICE/DTLS
// internals; negotiation material crosses this boundary as raw JSON and is
// never interpreted on this side.
package media

import (
	"context"
	"encoding/json"
)

// Kind is a media track kind.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Direction of a transport relative to the client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Engine creates workers. One implementation exists per media backend.
type Engine interface {
	NewWorker(ctx context.Context) (Worker, error)
}

// Worker is an independent media execution unit. Rooms are distributed
// across a fixed pool of these; a worker outlives every router it hosts.
type Worker interface {
	ID() string
	CreateRouter(ctx context.Context) (Router, error)
	// OnDied registers a handler for fatal worker failure. The handler may
	// be invoked at most once, from the engine's own goroutine.
	OnDied(func(err error))
	Close()
}

// Router relays media between producers and consumers within one room.
type Router interface {
	ID() string
	RTPCapabilities() json.RawMessage
	CreateTransport(ctx context.Context) (Transport, error)
	// CanConsume reports whether a consumer with the given receiving
	// capabilities can be bound to the producer.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool
	// Close tears down the router and every transport, producer and
	// consumer it hosts.
	Close()
}

// TransportInfo is the connection material a client needs to complete the
// transport handshake on its side.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// Transport is one negotiated network path, send or recv.
type Transport interface {
	ID() string
	Info() TransportInfo
	Connect(ctx context.Context, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, kind Kind, rtpParameters json.RawMessage) (Producer, error)
	// Consume creates a paused consumer bound to the producer.
	Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (Consumer, error)
	Close()
}

// Producer is one outbound media track published through a send transport.
type Producer interface {
	ID() string
	Kind() Kind
	Close()
}

// Consumer is one inbound media track sourced from exactly one producer.
// It starts paused and is resumed by the client once its transport is up.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	RTPParameters() json.RawMessage
	Resume() error
	Close()
}
