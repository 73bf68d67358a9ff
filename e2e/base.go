package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"groupchat/internal"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

type BaseSuite struct {
	suite.Suite
	Config Config

	url    string
	db     *badger.DB
	app    *internal.App
	server *httptest.Server
	cancel context.CancelFunc
}

// SetupSuite loads the environment configuration and starts an in-process
// server when no CHAT_URL is given.
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)

	if s.Config.ChatURL != "" {
		s.url = s.Config.ChatURL
		return
	}

	s.db, err = badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	s.Require().NoError(err)

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	s.app, err = internal.NewApp(log, internal.Config{
		RoomMailboxSize:      64,
		ConnectionBufferSize: 64,
		DeliveryTimeout:      2 * time.Second,
		RoomIdleTimeout:      time.Minute,
		RestartInterval:      200 * time.Millisecond,
		MaxFrameBytes:        1 << 20,
		PongWait:             time.Minute,
		WriteWait:            10 * time.Second,
	}, s.db)
	s.Require().NoError(err)

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.app.Start(ctx)
	s.server = httptest.NewServer(s.app.Handler())
	s.url = "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
}

func (s *BaseSuite) TearDownSuite() {
	if s.server == nil {
		return
	}
	s.server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.NoError(s.app.Close(ctx))
	s.cancel()
	s.NoError(s.db.Close())
}

// Header prints a colorized step header in the test logs.
func (s *BaseSuite) Header(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// HTTPURL is the base URL of the REST routes, next to the websocket route.
func (s *BaseSuite) HTTPURL(path string) string {
	base := "http" + strings.TrimPrefix(s.url, "ws")
	return strings.TrimSuffix(base, "/ws") + path
}

// GetJSON decodes the body of a GET on a REST route.
func (s *BaseSuite) GetJSON(path string, into any) int {
	resp, err := http.Get(s.HTTPURL(path))
	s.Require().NoError(err)
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == http.StatusOK {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one websocket connection of a scenario.
type Client struct {
	s            *BaseSuite
	name         string
	conn         *websocket.Conn
	ConnectionID string
}

// Dial opens a connection and consumes its connected frame.
func (s *BaseSuite) Dial(name string) *Client {
	s.Header("Connecting " + name)
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	s.Require().NoError(err, "Failed to connect to chat server at "+s.url)
	s.T().Cleanup(func() { _ = conn.Close() })

	c := &Client{s: s, name: name, conn: conn}
	var hello struct {
		ConnectionID string `json:"connectionId"`
	}
	c.Expect("connected", &hello)
	s.Require().NotEmpty(hello.ConnectionID)
	c.ConnectionID = hello.ConnectionID
	return c
}

func (c *Client) Send(eventName string, data any) {
	raw, err := json.Marshal(data)
	c.s.Require().NoError(err)
	if c.s.Config.DebugJSON {
		c.s.T().Logf("%s >>> %s %s", c.name, eventName, raw)
	}
	c.s.Require().NoError(c.conn.WriteJSON(frame{Event: eventName, Data: raw}))
}

// Expect reads the next frame, checks its name and decodes its data.
func (c *Client) Expect(eventName string, into any) {
	c.s.Require().NoError(c.conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	var f frame
	c.s.Require().NoError(c.conn.ReadJSON(&f), "%s waiting for %s", c.name, eventName)
	if c.s.Config.DebugJSON {
		c.s.T().Logf("%s <<< %s %s", c.name, f.Event, f.Data)
	}
	c.s.Require().Equal(eventName, f.Event, "data=%s", string(f.Data))
	if into != nil {
		c.s.Require().NoError(json.Unmarshal(f.Data, into))
	}
}

func (c *Client) Close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}
