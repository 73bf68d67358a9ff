package runtime

import (
	"context"
	"fmt"
	"groupchat/contract"
	"groupchat/domain"
	"groupchat/domain/event"
	"groupchat/mocks"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRouter_EmitToRoom_Delivers_In_Join_Order(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	router := NewRouter(log, registry, time.Second)
	roomID := domain.RoomID("g1")
	first, second := mocks.NewMockEventSink(ctrl), mocks.NewMockEventSink(ctrl)
	evt := event.Status{Room: roomID, Message: "alice joined the room"}

	// Given two members joined in order
	a, b := newConnectionID(), newConnectionID()
	registry.Connect(a, first)
	registry.Connect(b, second)
	_, _ = registry.Join(roomID, a, "alice")
	_, _ = registry.Join(roomID, b, "bob")

	// Then each sink receives the event once, first member first
	gomock.InOrder(
		first.EXPECT().Consume(gomock.Any(), evt).Return(nil),
		second.EXPECT().Consume(gomock.Any(), evt).Return(nil),
	)

	// When
	delivered := router.EmitToRoom(context.Background(), roomID, evt)
	req.Equal(2, delivered)
}

func TestRouter_Failing_Sink_Does_Not_Stop_Delivery(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	router := NewRouter(log, registry, time.Second)
	roomID := domain.RoomID("g1")
	broken, healthy := mocks.NewMockEventSink(ctrl), mocks.NewMockEventSink(ctrl)

	a, b := newConnectionID(), newConnectionID()
	registry.Connect(a, broken)
	registry.Connect(b, healthy)
	_, _ = registry.Join(roomID, a, "alice")
	_, _ = registry.Join(roomID, b, "bob")

	// Given the first sink fails
	broken.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(fmt.Errorf("closed"))
	healthy.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil)

	// When
	delivered := router.EmitToRoom(context.Background(), roomID, event.Typing{Room: roomID})

	// Then the other member still gets it
	req.Equal(1, delivered)
}

func TestRouter_Slow_Sink_Is_Bounded_By_Delivery_Timeout(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry()
	router := NewRouter(log, registry, 20*time.Millisecond)
	slow := mocks.NewMockEventSink(ctrl)
	connectionID := newConnectionID()
	registry.Connect(connectionID, slow)

	// Given a sink that waits for its context
	slow.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ event.Event) error {
			<-ctx.Done()
			return ctx.Err()
		})

	// When
	start := time.Now()
	ok := router.EmitToOne(context.Background(), connectionID, event.Connected{Connection: connectionID})

	// Then the router gave up after the timeout
	req.False(ok)
	req.Less(time.Since(start), time.Second)
}

func TestRouter_EmitToOne_Unknown_Connection(t *testing.T) {
	req := require.New(t)
	router := NewRouter(logs.GetLoggerFromLevel(slog.LevelDebug), NewRegistry(), time.Second)

	ok := router.EmitToOne(context.Background(), newConnectionID(), event.Connected{})

	req.False(ok)
}

func TestRouter_EmitToAll_Skips_Sender(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	router := NewRouter(logs.GetLoggerFromLevel(slog.LevelDebug), registry, time.Second)
	sender, other := mocks.NewMockEventSink(ctrl), mocks.NewMockEventSink(ctrl)
	a, b := newConnectionID(), newConnectionID()
	registry.Connect(a, sender)
	registry.Connect(b, other)
	evt := event.PresenceChanged{Username: "alice", Online: true}

	// Then only the other connection is notified
	other.EXPECT().Consume(gomock.Any(), evt).Return(nil)

	delivered := router.EmitToAll(context.Background(), evt, a)
	req.Equal(1, delivered)
}

func TestRouter_EmitToRoom_Encodes_Once_For_All_Members(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	roomID := domain.RoomID("g1")
	evt := event.Status{Room: roomID, Message: "carol joined the room"}

	// Given an encoder counting its calls
	encodings := 0
	frame := []byte(`{"event":"status"}`)
	router := NewRouter(logs.GetLoggerFromLevel(slog.LevelDebug), registry, time.Second).
		WithEncoder(func(e event.Event) ([]byte, error) {
			encodings++
			req.Equal(evt, e)
			return frame, nil
		})

	// And three members, one of them without frame support
	sinks := []*mocks.MockFrameSink{mocks.NewMockFrameSink(ctrl), mocks.NewMockFrameSink(ctrl)}
	for i, sink := range sinks {
		id := newConnectionID()
		registry.Connect(id, sink)
		_, _ = registry.Join(roomID, id, fmt.Sprintf("user%d", i))
		sink.EXPECT().ConsumeFrame(gomock.Any(), frame).Return(nil)
	}
	plain := mocks.NewMockEventSink(ctrl)
	plainID := newConnectionID()
	registry.Connect(plainID, plain)
	_, _ = registry.Join(roomID, plainID, "carol")
	plain.EXPECT().Consume(gomock.Any(), evt).Return(nil)

	// When
	delivered := router.EmitToRoom(context.Background(), roomID, evt)

	// Then the event was encoded a single time and reached everyone
	req.Equal(3, delivered)
	req.Equal(1, encodings)
}

func TestRouter_Encoding_Failure_Skips_Frame_Sinks(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := NewRegistry()
	router := NewRouter(logs.GetLoggerFromLevel(slog.LevelDebug), registry, time.Second).
		WithEncoder(func(event.Event) ([]byte, error) { return nil, fmt.Errorf("no wire form") })
	sink := mocks.NewMockFrameSink(ctrl)
	id := newConnectionID()
	registry.Connect(id, sink)

	// Then nothing is queued
	ok := router.EmitToOne(context.Background(), id, event.Connected{Connection: id})
	req.False(ok)
}

var (
	_ contract.EventSink = (*mocks.MockEventSink)(nil)
	_ contract.FrameSink = (*mocks.MockFrameSink)(nil)
)
