// Command client is a line-oriented terminal client: it joins one room and
// sends every line read from stdin as a message.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	URL      string `env:"CHAT_URL,default=ws://localhost:8080/ws"`
	Username string `env:"CHAT_USERNAME,required=true"`
	Room     string `env:"CHAT_ROOM,default=general"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type message struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	Time     string `json:"time"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.URL, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	if err := send(conn, "presence", map[string]string{"username": config.Username}); err != nil {
		return exitRuntime, err
	}
	if err := send(conn, "joinGroup", map[string]string{
		"groupId":  config.Room,
		"username": config.Username,
	}); err != nil {
		return exitRuntime, err
	}
	log.Info(fmt.Sprintf(">>> Connected to %s, room %s (Ctrl+C to quit)", config.URL, config.Room))

	received := make(chan error, 1)
	go func() { received <- readLoop(conn, log) }()

	lines := make(chan string)
	go scanLines(lines)

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping client...")
			return exitOK, nil
		case err := <-received:
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("connection error: %w", err)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if err := sendLine(conn, config, line); err != nil {
				return exitRuntime, err
			}
		}
	}
}

// sendLine turns a line into a frame. "/leave" leaves the room, anything
// else is posted as a message.
func sendLine(conn *websocket.Conn, config Config, line string) error {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return nil
	case "/leave":
		return send(conn, "leaveGroup", map[string]string{"groupId": config.Room})
	default:
		return send(conn, "message", map[string]string{
			"groupId":  config.Room,
			"username": config.Username,
			"message":  line,
		})
	}
}

func send(conn *websocket.Conn, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(frame{Event: name, Data: data})
}

func scanLines(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func readLoop(conn *websocket.Conn, log *slog.Logger) error {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Event {
		case "message":
			var m message
			if err := json.Unmarshal(f.Data, &m); err != nil {
				log.Debug("Unreadable message", "error", err)
				continue
			}
			fmt.Printf("[%s] %s: %s\n", clock(m.Time), color.Cyan.Render(m.Username), m.Message)
		case "chatHistory":
			var history []message
			if err := json.Unmarshal(f.Data, &history); err != nil {
				log.Debug("Unreadable history", "error", err)
				continue
			}
			for _, m := range history {
				fmt.Printf("%s\n", color.Gray.Sprintf("[%s] %s: %s", clock(m.Time), m.Username, m.Message))
			}
		case "status":
			var status struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(f.Data, &status)
			fmt.Println(color.Yellow.Render("* " + status.Message))
		case "error":
			fmt.Println(color.Red.Render(string(f.Data)))
		default:
			log.Debug("Frame received", "event", f.Event, "data", string(f.Data))
		}
	}
}

func clock(iso string) string {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return iso
	}
	return t.Local().Format(time.TimeOnly)
}
