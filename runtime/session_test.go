package runtime

import (
	"context"
	"fmt"
	"groupchat/domain"
	"groupchat/domain/event"
	"groupchat/errors"
	"groupchat/mocks"
	"groupchat/repositories"
	"groupchat/runtime/workers"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordingSink) Consume(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) all() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

func (s *recordingSink) named(name string) []event.Event {
	return lo.Filter(s.all(), func(e event.Event, _ int) bool { return e.Name() == name })
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func (s *recordingSink) messages() []domain.Message {
	return lo.Map(s.named(event.NameMessage), func(e event.Event, _ int) domain.Message {
		return e.(event.MessagePosted).Message
	})
}

type engine struct {
	registry *Registry
	factory  *SessionFactory
	messages *repositories.MessageRepository
}

type client struct {
	session *Session
	sink    *recordingSink
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)

	messages := repositories.NewMessageRepository(db, log)
	registry := NewRegistry()
	router := NewRouter(log, registry, time.Second)
	service := NewRoomService(log, registry, router, messages)
	orchestrator := NewOrchestrator(log, workers.NewSupervisor(log, 0), service, registry, 16, time.Minute)
	orchestrator.Start(context.Background())
	t.Cleanup(func() {
		orchestrator.Stop()
		_ = messages.Close()
		_ = db.Close()
	})
	return &engine{
		registry: registry,
		factory:  NewSessionFactory(log, orchestrator, router),
		messages: messages,
	}
}

func (e *engine) connect() *client {
	id := newConnectionID()
	sink := &recordingSink{}
	e.registry.Connect(id, sink)
	return &client{session: e.factory.NewSession(id), sink: sink}
}

// disconnect mirrors the gateway teardown.
func (e *engine) disconnect(t *testing.T, c *client) {
	require.NoError(t, c.session.Disconnect(context.Background()))
	e.registry.Disconnect(c.session.ID())
}

func (e *engine) history(t *testing.T, room domain.RoomID) []domain.Message {
	messages, err := e.messages.History(room)
	require.NoError(t, err)
	return messages
}

func TestSession_Alice_And_Bob_Scenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b := e.connect(), e.connect()

	// When A joins g1 as alice
	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))

	// Then A receives an empty history and the room the member list
	req.Equal([]event.Event{event.ChatHistory{Room: "g1", Messages: []domain.Message{}}}, a.sink.named(event.NameChatHistory))
	req.Equal([]event.Event{event.Members{Room: "g1", Usernames: []string{"alice"}}}, a.sink.named(event.NameMembers))
	req.Equal(domain.InRoom, a.session.State())

	// When B joins g1 as bob
	req.NoError(b.session.JoinRoom(ctx, "g1", "bob"))

	// Then B receives an empty history and both see alice then bob
	req.Equal([]event.Event{event.ChatHistory{Room: "g1", Messages: []domain.Message{}}}, b.sink.named(event.NameChatHistory))
	bothMembers := event.Members{Room: "g1", Usernames: []string{"alice", "bob"}}
	req.Equal(bothMembers, lo.LastOrEmpty(a.sink.named(event.NameMembers)))
	req.Equal(bothMembers, lo.LastOrEmpty(b.sink.named(event.NameMembers)))
	req.Len(a.sink.named(event.NameChatHistory), 1)

	// When A posts "hi"
	req.NoError(a.session.PostMessage(ctx, PostMessageRequest{Body: "hi"}))

	// Then both receive it and the history holds one record
	for _, c := range []*client{a, b} {
		received := c.sink.messages()
		req.Len(received, 1)
		req.Equal("alice", received[0].Username)
		req.Equal("hi", received[0].Body)
		req.Equal(domain.RoomID("g1"), received[0].Room)
		req.NotEmpty(received[0].ID)
		req.NotEmpty(received[0].Time)
	}
	req.Len(e.history(t, "g1"), 1)

	// When B disconnects
	b.sink.reset()
	e.disconnect(t, b)

	// Then A receives exactly one roomInfo with alice alone
	req.Equal([]event.Event{event.RoomInfo{Room: "g1", Members: []string{"alice"}, Count: 1}}, a.sink.named(event.NameRoomInfo))
	req.Equal(event.Status{Room: "g1", Message: "bob lost connection"}, lo.LastOrEmpty(a.sink.named(event.NameStatus)))
	// And B receives nothing further
	req.Empty(b.sink.all())
	req.Equal([]string{"alice"}, e.registry.MembersOf("g1"))
}

func TestSession_Join_Replays_History_To_Joiner_Only(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b := e.connect(), e.connect()

	// Given alice posted three messages
	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))
	for i := range 3 {
		req.NoError(a.session.PostMessage(ctx, PostMessageRequest{Body: fmt.Sprintf("m%d", i)}))
	}
	a.sink.reset()

	// When bob joins
	req.NoError(b.session.JoinRoom(ctx, "g1", "bob"))

	// Then bob gets the full history in order
	histories := b.sink.named(event.NameChatHistory)
	req.Len(histories, 1)
	replayed := histories[0].(event.ChatHistory).Messages
	req.Equal([]string{"m0", "m1", "m2"}, lo.Map(replayed, func(m domain.Message, _ int) string { return m.Body }))
	req.Equal(e.history(t, "g1"), replayed)

	// And nobody receives it as new messages
	req.Empty(a.sink.named(event.NameChatHistory))
	req.Empty(a.sink.messages())
	req.Empty(b.sink.messages())
}

func TestSession_Empty_Message_Is_Rejected(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b := e.connect(), e.connect()
	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))
	req.NoError(b.session.JoinRoom(ctx, "g1", "bob"))

	// When alice posts neither text nor image
	err := a.session.PostMessage(ctx, PostMessageRequest{})

	// Then nothing is stored nor broadcast
	req.ErrorIs(err, errors.ErrEmptyMessage)
	req.True(errors.IsSilent(err))
	req.Empty(e.history(t, "g1"))
	req.Empty(a.sink.messages())
	req.Empty(b.sink.messages())
}

func TestSession_Image_Only_Message_Is_Accepted(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a := e.connect()
	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))

	req.NoError(a.session.PostMessage(ctx, PostMessageRequest{Image: "https://img/cat.png", Time: "2024-03-09T13:05:07Z"}))

	received := a.sink.messages()
	req.Len(received, 1)
	req.Equal("https://img/cat.png", received[0].Image)
	req.Equal("2024-03-09T13:05:07Z", received[0].Time)
	req.Empty(received[0].Body)
}

func TestSession_Post_Outside_Room_Is_A_NoOp(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b := e.connect(), e.connect()
	req.NoError(b.session.JoinRoom(ctx, "g1", "bob"))

	// When alice posts to g1 without joining it
	err := a.session.PostMessage(ctx, PostMessageRequest{Room: "g1", Username: "alice", Body: "hi"})

	// Then
	req.ErrorIs(err, errors.ErrNotAMember)
	req.Empty(e.history(t, "g1"))
	req.Empty(b.sink.messages())

	// And without any room at all the frame is dropped
	req.ErrorIs(a.session.PostMessage(ctx, PostMessageRequest{Body: "hi"}), errors.ErrMissingRoom)
}

func TestSession_Members_See_Room_Messages_In_Append_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b, c := e.connect(), e.connect(), e.connect()
	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))
	req.NoError(b.session.JoinRoom(ctx, "g1", "bob"))
	req.NoError(c.session.JoinRoom(ctx, "g1", "carol"))

	// When alice and bob post concurrently
	const perSender = 25
	var wg sync.WaitGroup
	errs := make(chan error, 2*perSender)
	for _, sender := range []*client{a, b} {
		wg.Add(1)
		go func(sender *client) {
			defer wg.Done()
			for i := range perSender {
				if err := sender.session.PostMessage(ctx, PostMessageRequest{Body: fmt.Sprintf("%s-%d", sender.session.Username(), i)}); err != nil {
					errs <- err
				}
			}
		}(sender)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	// Then every member observed the stored order
	history := e.history(t, "g1")
	req.Len(history, 2*perSender)
	for _, member := range []*client{a, b, c} {
		req.Equal(history, member.sink.messages())
	}
}

func TestSession_History_Is_Isolated_From_Other_Rooms(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b := e.connect(), e.connect()
	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))
	req.NoError(b.session.JoinRoom(ctx, "g2", "bob"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 20 {
			_ = b.session.PostMessage(ctx, PostMessageRequest{Body: fmt.Sprintf("noise-%d", i)})
		}
	}()
	for i := range 10 {
		req.NoError(a.session.PostMessage(ctx, PostMessageRequest{Body: fmt.Sprintf("m%d", i)}))
	}

	// Then g1 holds exactly its own ten messages, whatever g2 does meanwhile
	history := e.history(t, "g1")
	req.Len(history, 10)
	for i, m := range history {
		req.Equal(fmt.Sprintf("m%d", i), m.Body)
	}
	wg.Wait()
	req.Len(e.history(t, "g2"), 20)
	req.Len(a.sink.messages(), 10)
}

func TestSession_Joining_Another_Room_Leaves_The_Current_One(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b := e.connect(), e.connect()
	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))
	req.NoError(b.session.JoinRoom(ctx, "g1", "bob"))

	// When bob moves to g2
	req.NoError(b.session.JoinRoom(ctx, "g2", "bob"))

	// Then g1 is told bob left and bob is only in g2
	req.Equal([]event.Event{event.RoomInfo{Room: "g1", Members: []string{"alice"}, Count: 1}}, a.sink.named(event.NameRoomInfo))
	req.Equal(event.Status{Room: "g1", Message: "bob left the room"}, lo.LastOrEmpty(a.sink.named(event.NameStatus)))
	req.False(e.registry.IsMember("g1", b.session.ID()))
	req.True(e.registry.IsMember("g2", b.session.ID()))
	req.Equal(domain.RoomID("g2"), b.session.Room())
}

func TestSession_LeaveRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b := e.connect(), e.connect()

	// Given leaving without a room is a no-op
	req.NoError(a.session.LeaveRoom(ctx))
	req.Equal(domain.Anonymous, a.session.State())

	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))
	req.NoError(b.session.JoinRoom(ctx, "g1", "bob"))
	b.sink.reset()
	a.sink.reset()

	// When alice leaves
	req.NoError(a.session.LeaveRoom(ctx))

	// Then bob is told, alice is not
	req.Equal([]event.Event{
		event.RoomInfo{Room: "g1", Members: []string{"bob"}, Count: 1},
		event.Status{Room: "g1", Message: "alice left the room"},
	}, b.sink.all())
	req.Empty(a.sink.all())
	req.Equal(domain.Present, a.session.State())
	req.Empty(a.session.Room())
}

func TestSession_Presence(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b := e.connect(), e.connect()

	// When alice announces herself
	req.NoError(a.session.AnnouncePresence(ctx, "alice"))

	// Then bob is told, alice is not
	req.Equal([]event.Event{event.PresenceChanged{Username: "alice", Online: true}}, b.sink.all())
	req.Empty(a.sink.all())
	req.Equal(domain.Present, a.session.State())

	// When alice disconnects
	e.disconnect(t, a)

	// Then bob sees her go offline
	req.Equal(event.PresenceChanged{Username: "alice", Online: false}, lo.LastOrEmpty(b.sink.all()))
	req.Equal(domain.Disconnected, a.session.State())

	// And a second disconnect does nothing
	req.NoError(a.session.Disconnect(ctx))
	req.Len(b.sink.all(), 2)
}

func TestSession_Presence_Rename_In_Room_Is_Dropped(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b := e.connect(), e.connect()
	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))
	b.sink.reset()

	err := a.session.AnnouncePresence(ctx, "mallory")

	req.ErrorIs(err, errors.ErrRenameInRoom)
	req.True(errors.IsSilent(err))
	req.Empty(b.sink.all())
	req.Equal("alice", a.session.Username())

	// Then the same name is re-announced
	req.NoError(a.session.AnnouncePresence(ctx, "alice"))
	req.Len(b.sink.named(event.NamePresence), 1)
}

func TestSession_Join_Requires_Room_And_Username(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a := e.connect()

	req.ErrorIs(a.session.JoinRoom(ctx, "", "alice"), errors.ErrMissingRoom)
	req.ErrorIs(a.session.JoinRoom(ctx, "g1", ""), errors.ErrMissingUsername)
	req.Equal(domain.Anonymous, a.session.State())
	req.Zero(e.registry.RoomCount())
	req.Empty(a.sink.all())
}

func TestSession_Typing_Is_Forwarded_Verbatim(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b := e.connect(), e.connect()
	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))
	req.NoError(b.session.JoinRoom(ctx, "g1", "bob"))
	payload := []byte(`{"groupId":"g1","username":"alice","typing":true,"extra":[1,2]}`)

	req.NoError(a.session.Typing(ctx, "g1", payload))

	req.Equal([]event.Event{event.Typing{Room: "g1", Payload: payload}}, b.sink.named(event.NameTyping))
	req.ErrorIs(a.session.Typing(ctx, "", payload), errors.ErrMissingRoom)
}

func TestSession_PrivateMessage(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a, b, c := e.connect(), e.connect(), e.connect()
	req.NoError(a.session.AnnouncePresence(ctx, "alice"))
	b.sink.reset()
	c.sink.reset()

	// When alice whispers to bob
	req.NoError(a.session.PrivateMessage(ctx, b.session.ID(), "", "psst"))

	// Then only bob receives it
	req.Equal([]event.Event{event.PrivateMessage{From: "alice", Message: "psst"}}, b.sink.all())
	req.Empty(c.sink.all())

	// And an unknown target is dropped
	req.NoError(a.session.PrivateMessage(ctx, newConnectionID(), "alice", "psst"))
	req.ErrorIs(a.session.PrivateMessage(ctx, "", "alice", "psst"), errors.ErrMissingTarget)
}

func TestSession_Closed_Session_Refuses_Everything(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	e := newEngine(t)
	a := e.connect()
	e.disconnect(t, a)

	req.ErrorIs(a.session.AnnouncePresence(ctx, "alice"), errors.ErrSessionClosed)
	req.ErrorIs(a.session.JoinRoom(ctx, "g1", "alice"), errors.ErrSessionClosed)
	req.ErrorIs(a.session.PostMessage(ctx, PostMessageRequest{Room: "g1", Username: "alice", Body: "x"}), errors.ErrSessionClosed)
}

func TestSession_Known_Users_Only(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	e := newEngine(t)
	users := mocks.NewMockIUserRepository(ctrl)
	e.factory.WithKnownUsers(users)
	a := e.connect()

	users.EXPECT().FindUser("ghost").Return(domain.User{}, false, nil)
	users.EXPECT().FindUser("alice").Return(domain.User{Username: "alice"}, true, nil)

	// When an unknown user joins
	err := a.session.JoinRoom(ctx, "g1", "ghost")

	// Then the frame is dropped
	req.ErrorIs(err, errors.ErrUnknownUser)
	req.True(errors.IsSilent(err))
	req.Zero(e.registry.MemberCount("g1"))

	// And a known one gets in
	req.NoError(a.session.JoinRoom(ctx, "g1", "alice"))
}
