package domain

type (
	// RoomCode is the externally issued meeting code ("ABC123").
	// The room CRUD service guarantees uniqueness for the code's TTL window.
	RoomCode string

	// PeerID identifies one live signaling connection, not a user account.
	// A reconnecting client gets a fresh PeerID.
	PeerID string
)
