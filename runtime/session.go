package runtime

import (
	"context"
	"groupchat/contract"
	"groupchat/domain"
	"groupchat/domain/event"
	"groupchat/errors"
	"groupchat/repositories"
	"log/slog"
)

// PostMessageRequest is an inbound message. Room and Username fall back to
// the session's own values when empty.
type PostMessageRequest struct {
	Room     domain.RoomID
	Username string
	Body     string
	Image    string
	Time     string
}

// SessionFactory builds the sessions of new connections with shared
// collaborators.
type SessionFactory struct {
	log               *slog.Logger
	dispatcher        contract.IDispatcher
	broadcaster       contract.IBroadcaster
	users             repositories.IUserRepository
	requireKnownUsers bool
}

func NewSessionFactory(log *slog.Logger, dispatcher contract.IDispatcher, broadcaster contract.IBroadcaster) *SessionFactory {
	return &SessionFactory{log: log, dispatcher: dispatcher, broadcaster: broadcaster}
}

// WithKnownUsers restricts usernames to those the directory knows.
func (f *SessionFactory) WithKnownUsers(users repositories.IUserRepository) *SessionFactory {
	f.users = users
	f.requireKnownUsers = users != nil
	return f
}

func (f *SessionFactory) NewSession(id domain.ConnectionID) *Session {
	return &Session{
		id:      id,
		log:     f.log.With("connection", id),
		factory: f,
		state:   domain.Anonymous,
	}
}

// Session is the state machine of one connection:
// Anonymous -> Present -> InRoom -> Present, and Disconnected at the end.
// It is driven by the connection's read loop only and is not safe for
// concurrent use.
type Session struct {
	id        domain.ConnectionID
	log       *slog.Logger
	factory   *SessionFactory
	state     domain.SessionState
	username  string
	room      domain.RoomID
	announced bool
}

func (s *Session) ID() domain.ConnectionID     { return s.id }
func (s *Session) State() domain.SessionState { return s.state }
func (s *Session) Username() string           { return s.username }
func (s *Session) Room() domain.RoomID        { return s.room }

// AnnouncePresence tells every other connection that username is online.
func (s *Session) AnnouncePresence(ctx context.Context, username string) error {
	if s.state == domain.Disconnected {
		return errors.ErrSessionClosed
	}
	if username == "" {
		return errors.ErrMissingUsername
	}
	if s.state == domain.InRoom && username != s.username {
		return errors.ErrRenameInRoom
	}
	if err := s.checkKnown(username); err != nil {
		return err
	}

	s.username = username
	if s.state == domain.Anonymous {
		s.state = domain.Present
	}
	s.announced = true
	s.factory.broadcaster.EmitToAll(ctx, event.PresenceChanged{Username: username, Online: true}, s.id)
	return nil
}

// JoinRoom enters room as username, leaving the current room first if it is
// another one.
func (s *Session) JoinRoom(ctx context.Context, room domain.RoomID, username string) error {
	if s.state == domain.Disconnected {
		return errors.ErrSessionClosed
	}
	if room == "" {
		return errors.ErrMissingRoom
	}
	if username == "" {
		return errors.ErrMissingUsername
	}
	if err := s.checkKnown(username); err != nil {
		return err
	}

	if s.state == domain.InRoom && s.room != room {
		if err := s.leave(ctx, domain.LeaveReasonLeft); err != nil {
			return err
		}
	}

	err := s.factory.dispatcher.Submit(ctx, domain.JoinRoomCommand{
		Room:       room,
		Connection: s.id,
		Username:   username,
	})
	if err != nil {
		return err
	}
	s.username = username
	s.room = room
	s.state = domain.InRoom
	s.log.Debug("Joined room", "room", room, "username", username)
	return nil
}

// PostMessage appends a message to the room and broadcasts it once stored.
func (s *Session) PostMessage(ctx context.Context, req PostMessageRequest) error {
	if s.state == domain.Disconnected {
		return errors.ErrSessionClosed
	}
	if req.Room == "" {
		req.Room = s.room
	}
	if req.Username == "" {
		req.Username = s.username
	}
	if req.Room == "" {
		return errors.ErrMissingRoom
	}
	if req.Username == "" {
		return errors.ErrMissingUsername
	}
	if req.Body == "" && req.Image == "" {
		return errors.ErrEmptyMessage
	}
	if s.state != domain.InRoom || s.room != req.Room {
		return errors.ErrNotAMember
	}

	return s.factory.dispatcher.Submit(ctx, domain.PostMessageCommand{
		Room:       req.Room,
		Connection: s.id,
		Username:   req.Username,
		Body:       req.Body,
		Image:      req.Image,
		Time:       req.Time,
	})
}

// LeaveRoom is a no-op outside a room.
func (s *Session) LeaveRoom(ctx context.Context) error {
	if s.state != domain.InRoom {
		return nil
	}
	return s.leave(ctx, domain.LeaveReasonLeft)
}

// Typing forwards payload untouched to the members of room.
func (s *Session) Typing(ctx context.Context, room domain.RoomID, payload []byte) error {
	if s.state == domain.Disconnected {
		return errors.ErrSessionClosed
	}
	if room == "" {
		return errors.ErrMissingRoom
	}
	return s.factory.dispatcher.Submit(ctx, domain.TypingCommand{
		Room:       room,
		Connection: s.id,
		Payload:    payload,
	})
}

// PrivateMessage delivers message to one connection. An unknown target is
// dropped.
func (s *Session) PrivateMessage(ctx context.Context, to domain.ConnectionID, from, message string) error {
	if s.state == domain.Disconnected {
		return errors.ErrSessionClosed
	}
	if to == "" {
		return errors.ErrMissingTarget
	}
	if message == "" {
		return errors.ErrEmptyMessage
	}
	if from == "" {
		from = s.username
	}
	if !s.factory.broadcaster.EmitToOne(ctx, to, event.PrivateMessage{From: from, Message: message}) {
		s.log.Debug("Private message dropped", "to", to)
	}
	return nil
}

// Disconnect ends the session. A room membership is retracted with a lost
// connection notice and an announced presence goes offline. Calling it again
// does nothing.
func (s *Session) Disconnect(ctx context.Context) error {
	if s.state == domain.Disconnected {
		return nil
	}
	var err error
	if s.state == domain.InRoom {
		err = s.leave(ctx, domain.LeaveReasonDisconnected)
	}
	if s.announced {
		s.factory.broadcaster.EmitToAll(ctx, event.PresenceChanged{Username: s.username, Online: false}, s.id)
	}
	s.state = domain.Disconnected
	return err
}

// leave always ends up outside the room, even when the room worker could not
// run the retraction.
func (s *Session) leave(ctx context.Context, reason domain.LeaveReason) error {
	room := s.room
	err := s.factory.dispatcher.Submit(ctx, domain.LeaveRoomCommand{
		Room:       room,
		Connection: s.id,
		Username:   s.username,
		Reason:     reason,
	})
	s.room = ""
	s.state = domain.Present
	if errors.Is(err, errors.ErrNotAMember) {
		return nil
	}
	if err == nil {
		s.log.Debug("Left room", "room", room, "reason", reason)
	}
	return err
}

func (s *Session) checkKnown(username string) error {
	if !s.factory.requireKnownUsers {
		return nil
	}
	_, found, err := s.factory.users.FindUser(username)
	if err != nil {
		return err
	}
	if !found {
		return errors.ErrUnknownUser
	}
	return nil
}
