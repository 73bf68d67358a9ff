// Package websocket is the connection gateway: it upgrades HTTP requests,
// turns inbound frames into session calls and writes outbound events.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"groupchat/domain"
	"groupchat/domain/event"
	"groupchat/errors"
	"groupchat/runtime"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const (
	inboundPresence       = "presence"
	inboundJoinGroup      = "joinGroup"
	inboundMessage        = "message"
	inboundLeaveGroup     = "leaveGroup"
	inboundTyping         = "typing"
	inboundPrivateMessage = "privateMessage"
)

var validate = validator.New()

// Frame is the envelope of every message on the socket, both ways.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// inbound is one decoded and validated client frame.
type inbound interface {
	dispatch(ctx context.Context, session *runtime.Session) error
}

type presenceFrame struct {
	Username string `json:"username" validate:"required,max=64"`
}

func (f presenceFrame) dispatch(ctx context.Context, s *runtime.Session) error {
	return s.AnnouncePresence(ctx, f.Username)
}

type joinGroupFrame struct {
	GroupID  string `json:"groupId" validate:"required,max=128"`
	Username string `json:"username" validate:"required,max=64"`
}

func (f joinGroupFrame) dispatch(ctx context.Context, s *runtime.Session) error {
	return s.JoinRoom(ctx, domain.RoomID(f.GroupID), f.Username)
}

type messageFrame struct {
	GroupID  string `json:"groupId" validate:"max=128"`
	Username string `json:"username" validate:"max=64"`
	Message  string `json:"message" validate:"max=4096"`
	Image    string `json:"image"`
	Time     string `json:"time"`
}

func (f messageFrame) dispatch(ctx context.Context, s *runtime.Session) error {
	return s.PostMessage(ctx, runtime.PostMessageRequest{
		Room:     domain.RoomID(f.GroupID),
		Username: f.Username,
		Body:     f.Message,
		Image:    f.Image,
		Time:     f.Time,
	})
}

type leaveGroupFrame struct{}

func (leaveGroupFrame) dispatch(ctx context.Context, s *runtime.Session) error {
	return s.LeaveRoom(ctx)
}

// typingFrame only reads groupId; the whole payload is forwarded as is.
type typingFrame struct {
	GroupID string `json:"groupId" validate:"required,max=128"`
	raw     json.RawMessage
}

func (f typingFrame) dispatch(ctx context.Context, s *runtime.Session) error {
	return s.Typing(ctx, domain.RoomID(f.GroupID), f.raw)
}

type privateMessageFrame struct {
	ToSocketID string `json:"toSocketId" validate:"required,max=64"`
	From       string `json:"from" validate:"max=64"`
	Message    string `json:"message" validate:"required,max=4096"`
}

func (f privateMessageFrame) dispatch(ctx context.Context, s *runtime.Session) error {
	return s.PrivateMessage(ctx, domain.ConnectionID(f.ToSocketID), f.From, f.Message)
}

// decodeFrame reads the envelope, then the payload of the named event, and
// validates it. Every failure is in the validation family.
func decodeFrame(raw []byte) (inbound, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
	}

	switch frame.Event {
	case inboundPresence:
		return decodePayload[presenceFrame](frame.Data)
	case inboundJoinGroup:
		return decodePayload[joinGroupFrame](frame.Data)
	case inboundMessage:
		return decodePayload[messageFrame](frame.Data)
	case inboundLeaveGroup:
		return leaveGroupFrame{}, nil
	case inboundTyping:
		f, err := decodePayload[typingFrame](frame.Data)
		if err != nil {
			return nil, err
		}
		f.raw = frame.Data
		return f, nil
	case inboundPrivateMessage:
		return decodePayload[privateMessageFrame](frame.Data)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, frame.Event)
	}
}

func decodePayload[T any](data json.RawMessage) (T, error) {
	var payload T
	if len(data) == 0 {
		return payload, fmt.Errorf("%w: missing data", errors.ErrInvalidFrame)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
	}
	if err := validate.Struct(payload); err != nil {
		return payload, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
	}
	return payload, nil
}

// MessageView is the wire form of a stored message. An absent image is null.
type MessageView struct {
	ID       string  `json:"id"`
	GroupID  string  `json:"groupId"`
	Username string  `json:"username"`
	Message  string  `json:"message"`
	Image    *string `json:"image"`
	Time     string  `json:"time"`
}

func NewMessageView(m domain.Message) MessageView {
	view := MessageView{
		ID:       m.ID,
		GroupID:  m.Room.String(),
		Username: m.Username,
		Message:  m.Body,
		Time:     m.Time,
	}
	if m.HasImage() {
		view.Image = lo.ToPtr(m.Image)
	}
	return view
}

func NewMessageViews(messages []domain.Message) []MessageView {
	return lo.Map(messages, func(m domain.Message, _ int) MessageView { return NewMessageView(m) })
}

type connectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type presencePayload struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

type statusPayload struct {
	GroupID string `json:"groupId"`
	Message string `json:"message"`
}

type roomInfoPayload struct {
	GroupID string   `json:"groupId"`
	Members []string `json:"members"`
	Count   int      `json:"count"`
}

type privateMessagePayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeEvent renders an outbound event as a complete frame.
func EncodeEvent(e event.Event) ([]byte, error) {
	var data any
	switch evt := e.(type) {
	case event.Connected:
		data = connectedPayload{ConnectionID: string(evt.Connection)}
	case event.PresenceChanged:
		data = presencePayload{Username: evt.Username, Online: evt.Online}
	case event.ChatHistory:
		data = NewMessageViews(evt.Messages)
	case event.Members:
		data = nonNil(evt.Usernames)
	case event.Status:
		data = statusPayload{GroupID: evt.Room.String(), Message: evt.Message}
	case event.MessagePosted:
		data = NewMessageView(evt.Message)
	case event.RoomInfo:
		data = roomInfoPayload{GroupID: evt.Room.String(), Members: nonNil(evt.Members), Count: evt.Count}
	case event.Typing:
		data = json.RawMessage(evt.Payload)
	case event.PrivateMessage:
		data = privateMessagePayload{From: evt.From, Message: evt.Message}
	case event.Failure:
		data = errorPayload{Code: evt.Code, Message: evt.Message}
	default:
		return nil, fmt.Errorf("no wire form for event %q", e.Name())
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: e.Name(), Data: raw})
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
