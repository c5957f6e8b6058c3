package signal

import (
	"encoding/json"

	"github.com/velored/meetmedia/internal/core"
)

// envelope frames every client request. ReqID is the correlation token the
// client uses to match the reply; notifications pushed by the server carry
// no ReqID.
type envelope struct {
	Type  string          `json:"type"`
	ReqID string          `json:"reqId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// response answers exactly one request: either Data or Error is set.
type response struct {
	Type  string `json:"type"`
	ReqID string `json:"reqId,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type joinRoomPayload struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
}

type joinRoomReply struct {
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type createTransportPayload struct {
	Direction string `json:"direction"`
}

type connectTransportPayload struct {
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type producePayload struct {
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type produceReply struct {
	ID string `json:"id"`
}

type consumePayload struct {
	TransportID     string          `json:"transportId"`
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type resumeConsumerPayload struct {
	ConsumerID string `json:"consumerId"`
}

type listProducersReply struct {
	Producers []core.ProducerInfo `json:"producers"`
}

type successReply struct {
	Success bool `json:"success"`
}
