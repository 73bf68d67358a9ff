package runtime

import (
	"context"
	"fmt"
	"groupchat/contract"
	"groupchat/domain"
	"groupchat/domain/event"
	"groupchat/errors"
	"groupchat/repositories"
	"log/slog"
)

var _ contract.ICommandHandler = (*RoomService)(nil)

const anonymousName = "Someone"

type censor interface {
	Censor(original string) (string, []string)
}

// RoomService applies room commands. Handle is only called by the worker of
// the command's room, so for a given room the registry change, the store
// append and the resulting emits happen as one step, in mailbox order.
type RoomService struct {
	log         *slog.Logger
	registry    contract.IRegistry
	broadcaster contract.IBroadcaster
	messages    repositories.IMessageRepository
	moderator   censor
}

func NewRoomService(log *slog.Logger, registry contract.IRegistry, broadcaster contract.IBroadcaster,
	messages repositories.IMessageRepository) *RoomService {
	return &RoomService{log: log, registry: registry, broadcaster: broadcaster, messages: messages}
}

// WithModerator censors message bodies before they are stored.
func (s *RoomService) WithModerator(moderator censor) *RoomService {
	s.moderator = moderator
	return s
}

func (s *RoomService) Handle(ctx context.Context, cmd domain.Command) error {
	switch c := cmd.(type) {
	case domain.JoinRoomCommand:
		return s.join(ctx, c)
	case domain.PostMessageCommand:
		return s.post(ctx, c)
	case domain.LeaveRoomCommand:
		return s.leave(ctx, c)
	case domain.TypingCommand:
		s.broadcaster.EmitToRoom(ctx, c.Room, event.Typing{Room: c.Room, Payload: c.Payload})
		return nil
	default:
		return fmt.Errorf("%w: %T", errors.ErrUnknownEvent, cmd)
	}
}

// join registers the membership, replays the history to the joiner only and
// then tells the room. A re-join replays the history and the member list
// again but announces nothing.
func (s *RoomService) join(ctx context.Context, c domain.JoinRoomCommand) error {
	if c.Room == "" {
		return errors.ErrMissingRoom
	}
	if c.Username == "" {
		return errors.ErrMissingUsername
	}

	history, err := s.messages.History(c.Room)
	if err != nil {
		return err
	}
	added, err := s.registry.Join(c.Room, c.Connection, c.Username)
	if err != nil {
		return err
	}

	s.broadcaster.EmitToOne(ctx, c.Connection, event.ChatHistory{Room: c.Room, Messages: history})
	s.broadcaster.EmitToRoom(ctx, c.Room, event.Members{Room: c.Room, Usernames: s.registry.MembersOf(c.Room)})
	if added {
		s.broadcaster.EmitToRoom(ctx, c.Room, event.Status{
			Room:    c.Room,
			Message: fmt.Sprintf("%s joined the room", c.Username),
		})
	}
	return nil
}

// post stores the message and only then broadcasts it to the whole room,
// sender included.
func (s *RoomService) post(ctx context.Context, c domain.PostMessageCommand) error {
	if !s.registry.IsMember(c.Room, c.Connection) {
		return errors.ErrNotAMember
	}

	message := domain.Message{
		Room:     c.Room,
		Username: c.Username,
		Body:     c.Body,
		Image:    c.Image,
		Time:     c.Time,
	}
	if err := message.Validate(); err != nil {
		return err
	}
	if s.moderator != nil && message.Body != "" {
		var words []string
		message.Body, words = s.moderator.Censor(message.Body)
		if len(words) > 0 {
			s.log.Debug("Censored words in message", "room", c.Room, "username", c.Username, "words", words)
		}
	}

	stored, err := s.messages.Append(c.Room, message)
	if err != nil {
		return err
	}
	s.broadcaster.EmitToRoom(ctx, c.Room, event.MessagePosted{Message: stored})
	return nil
}

// leave retracts the membership then tells the remaining members.
func (s *RoomService) leave(ctx context.Context, c domain.LeaveRoomCommand) error {
	if !s.registry.Leave(c.Room, c.Connection) {
		return errors.ErrNotAMember
	}

	members := s.registry.MembersOf(c.Room)
	s.broadcaster.EmitToRoom(ctx, c.Room, event.RoomInfo{Room: c.Room, Members: members, Count: len(members)})
	s.broadcaster.EmitToRoom(ctx, c.Room, event.Status{Room: c.Room, Message: leaveNotice(c)})
	return nil
}

func leaveNotice(c domain.LeaveRoomCommand) string {
	name := c.Username
	if name == "" {
		name = anonymousName
	}
	if c.Reason == domain.LeaveReasonDisconnected {
		return fmt.Sprintf("%s lost connection", name)
	}
	return fmt.Sprintf("%s left the room", name)
}
