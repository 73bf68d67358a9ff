package domain

// Command is a room-scoped request. Commands for the same room are handled
// one at a time, in submission order.
type Command interface {
	RoomID() RoomID
}

type JoinRoomCommand struct {
	Room       RoomID
	Connection ConnectionID
	Username   string
}

func (c JoinRoomCommand) RoomID() RoomID { return c.Room }

type PostMessageCommand struct {
	Room       RoomID
	Connection ConnectionID
	Username   string
	Body       string
	Image      string
	Time       string
}

func (c PostMessageCommand) RoomID() RoomID { return c.Room }

type LeaveRoomCommand struct {
	Room       RoomID
	Connection ConnectionID
	Username   string
	Reason     LeaveReason
}

func (c LeaveRoomCommand) RoomID() RoomID { return c.Room }

// TypingCommand forwards Payload to the room without looking at it.
type TypingCommand struct {
	Room       RoomID
	Connection ConnectionID
	Payload    []byte
}

func (c TypingCommand) RoomID() RoomID { return c.Room }
