//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"groupchat/domain"
	"groupchat/domain/event"
	"reflect"
)

type ISupervisor interface {
	Start(ctx context.Context, worker Worker)
	Stop()
	Wait()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives the events addressed to one connection.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// FrameSink also accepts an event the router already encoded, so a broadcast
// is encoded once for all its members.
type FrameSink interface {
	EventSink
	ConsumeFrame(ctx context.Context, frame []byte) error
}

// Encoder renders an event in the wire form FrameSinks expect.
type Encoder func(e event.Event) ([]byte, error)

// ICommandHandler applies one room command. It is only ever called from the
// worker owning that room.
type ICommandHandler interface {
	Handle(ctx context.Context, cmd domain.Command) error
}

// IDispatcher routes a room command to its room and waits for the outcome.
type IDispatcher interface {
	Submit(ctx context.Context, cmd domain.Command) error
}

type IBroadcaster interface {
	EmitToRoom(ctx context.Context, roomID domain.RoomID, e event.Event) int
	EmitToOne(ctx context.Context, connectionID domain.ConnectionID, e event.Event) bool
	EmitToAll(ctx context.Context, e event.Event, except domain.ConnectionID) int
}

type IRegistry interface {
	Connect(connectionID domain.ConnectionID, sink EventSink)
	Disconnect(connectionID domain.ConnectionID) (domain.RoomID, bool)
	Join(roomID domain.RoomID, connectionID domain.ConnectionID, username string) (bool, error)
	Leave(roomID domain.RoomID, connectionID domain.ConnectionID) bool
	IsMember(roomID domain.RoomID, connectionID domain.ConnectionID) bool
	MembersOf(roomID domain.RoomID) []string
	MemberCount(roomID domain.RoomID) int
	SinksForRoom(roomID domain.RoomID) []EventSink
	Sink(connectionID domain.ConnectionID) (EventSink, bool)
	SinksExcept(connectionID domain.ConnectionID) []EventSink
}
