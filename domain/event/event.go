// Package event holds the outbound events of the chat engine. Each event is
// a distinct type; the transport decides how it is framed on the wire.
package event

import "groupchat/domain"

const (
	NameConnected      = "connected"
	NamePresence       = "presence"
	NameChatHistory    = "chatHistory"
	NameMembers        = "members"
	NameStatus         = "status"
	NameMessage        = "message"
	NameRoomInfo       = "roomInfo"
	NameTyping         = "typing"
	NamePrivateMessage = "privateMessage"
	NameError          = "error"
)

type Event interface {
	Name() string
}

// Connected is the first event a connection receives.
type Connected struct {
	Connection domain.ConnectionID
}

func (Connected) Name() string { return NameConnected }

type PresenceChanged struct {
	Username string
	Online   bool
}

func (PresenceChanged) Name() string { return NamePresence }

// ChatHistory is sent to a joining connection only.
type ChatHistory struct {
	Room     domain.RoomID
	Messages []domain.Message
}

func (ChatHistory) Name() string { return NameChatHistory }

type Members struct {
	Room      domain.RoomID
	Usernames []string
}

func (Members) Name() string { return NameMembers }

type Status struct {
	Room    domain.RoomID
	Message string
}

func (Status) Name() string { return NameStatus }

type MessagePosted struct {
	Message domain.Message
}

func (MessagePosted) Name() string { return NameMessage }

type RoomInfo struct {
	Room    domain.RoomID
	Members []string
	Count   int
}

func (RoomInfo) Name() string { return NameRoomInfo }

// Typing carries the client payload untouched.
type Typing struct {
	Room    domain.RoomID
	Payload []byte
}

func (Typing) Name() string { return NameTyping }

type PrivateMessage struct {
	From    string
	Message string
}

func (PrivateMessage) Name() string { return NamePrivateMessage }

// Failure reports a hard failure to the connection that triggered it.
type Failure struct {
	Code    string
	Message string
}

func (Failure) Name() string { return NameError }
