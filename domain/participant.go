// Package domain contains core concepts of the chat system.
// This file defines participant records and session states.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// User is the profile a user directory returns for a username.
type User struct {
	Username    string
	DisplayName string
	AvatarURL   string
	Status      string
	CreatedAt   time.Time
}

// SessionState is the lifecycle state of one connection.
type SessionState int

const (
	Anonymous SessionState = iota
	Present
	InRoom
	Disconnected
)

func (s SessionState) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Present:
		return "present"
	case InRoom:
		return "in_room"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// LeaveReason tells why a connection left its room.
type LeaveReason int

const (
	LeaveReasonLeft LeaveReason = iota
	LeaveReasonDisconnected
)
