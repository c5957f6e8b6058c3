package core

// Frame is a raw outbound signaling payload.
type Frame []byte

// SignalConnection is the transport endpoint notifications are fanned out
// to. Owned by the adapter; the adapter must Close() it. TrySend must never
// block: a full peer is a dropped notification, not a stalled room.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
