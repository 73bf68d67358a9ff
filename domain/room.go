package domain

// RoomID identifies a room. Rooms are never created explicitly: a room exists
// as long as it has members or stored messages.
type RoomID string

// ConnectionID is the opaque identifier the gateway assigns to a live connection.
type ConnectionID string

func (r RoomID) String() string { return string(r) }

func (c ConnectionID) String() string { return string(c) }
