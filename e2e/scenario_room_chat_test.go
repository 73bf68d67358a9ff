package e2e

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type testRoomChatSuite struct {
	BaseSuite
}

func TestRoomChatSuite(t *testing.T) {
	suite.Run(t, &testRoomChatSuite{})
}

type message struct {
	ID       string  `json:"id"`
	GroupID  string  `json:"groupId"`
	Username string  `json:"username"`
	Message  string  `json:"message"`
	Image    *string `json:"image"`
	Time     string  `json:"time"`
}

type roomInfo struct {
	GroupID string   `json:"groupId"`
	Members []string `json:"members"`
	Count   int      `json:"count"`
}

type status struct {
	GroupID string `json:"groupId"`
	Message string `json:"message"`
}

func (s *testRoomChatSuite) TestTwoUsersChatInOneRoom() {
	// A fresh room per run, the target server may keep its history
	room := "e2e-" + uuid.NewString()
	alice, bob := s.Dial("alice"), s.Dial("bob")

	s.Run("Step 1: alice joins an empty room", func() {
		alice.Send("joinGroup", map[string]string{"groupId": room, "username": "alice"})
		var history []message
		alice.Expect("chatHistory", &history)
		s.Empty(history)
		var members []string
		alice.Expect("members", &members)
		s.Equal([]string{"alice"}, members)
		var st status
		alice.Expect("status", &st)
		s.Equal("alice joined the room", st.Message)
	})

	s.Run("Step 2: bob joins and alice is told", func() {
		bob.Send("joinGroup", map[string]string{"groupId": room, "username": "bob"})
		bob.Expect("chatHistory", nil)
		var members []string
		bob.Expect("members", &members)
		s.Equal([]string{"alice", "bob"}, members)
		bob.Expect("status", nil)

		alice.Expect("members", &members)
		s.Equal([]string{"alice", "bob"}, members)
		var st status
		alice.Expect("status", &st)
		s.Equal("bob joined the room", st.Message)
	})

	s.Run("Step 3: a message reaches both members", func() {
		alice.Send("message", map[string]string{"groupId": room, "username": "alice", "message": "hello"})
		var fromAlice, fromBob message
		alice.Expect("message", &fromAlice)
		bob.Expect("message", &fromBob)
		s.Equal(fromAlice, fromBob)
		s.Equal("hello", fromBob.Message)
		s.Nil(fromBob.Image)
		s.NotEmpty(fromBob.ID)
		s.NotEmpty(fromBob.Time)
	})

	s.Run("Step 4: the history route returns the message", func() {
		var history []message
		s.Equal(http.StatusOK, s.GetJSON("/messages/"+room, &history))
		s.Len(history, 1)
		s.Equal("alice", history[0].Username)
	})

	s.Run("Step 5: bob drops and alice sees it", func() {
		bob.Close()
		var info roomInfo
		alice.Expect("roomInfo", &info)
		s.Equal(roomInfo{GroupID: room, Members: []string{"alice"}, Count: 1}, info)
		var st status
		alice.Expect("status", &st)
		s.Equal("bob lost connection", st.Message)
	})
}
