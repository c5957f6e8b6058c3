// Package domain contains shared identifiers and the error taxonomy of the
// signaling layer. No logic lives here.
package domain

import "errors"

// Errors returned by the orchestration layer. The signaling adapter maps
// them onto wire-level error replies; anything not listed here is reported
// to the client as an internal error.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomClosed   = errors.New("room closed")

	ErrAlreadyJoined = errors.New("already joined")
	ErrNotInRoom     = errors.New("not in room")

	ErrTransportExists       = errors.New("transport already exists")
	ErrTransportNotFound     = errors.New("transport not found")
	ErrSendTransportNotFound = errors.New("send transport not found")
	ErrRecvTransportNotFound = errors.New("recv transport not found")
	ErrConsumerNotFound      = errors.New("consumer not found")
	ErrCannotConsume         = errors.New("cannot consume")
)
