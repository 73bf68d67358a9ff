package websocket

import (
	"context"
	"groupchat/contract"
	"groupchat/domain"
	"groupchat/domain/event"
	"groupchat/errors"
	"groupchat/runtime"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type Config struct {
	BufferSize     int
	MaxFrameBytes  int64
	PongWait       time.Duration
	WriteWait      time.Duration
	AllowedOrigins []string
}

// Gateway serves the chat over websocket. Each connection gets a session
// driven by its read loop and a writer goroutine draining its sink.
type Gateway struct {
	log      *slog.Logger
	cfg      Config
	upgrader websocket.Upgrader
	registry contract.IRegistry
	sessions *runtime.SessionFactory

	mu     sync.Mutex
	conns  map[domain.ConnectionID]*websocket.Conn
	closed bool
	wg     sync.WaitGroup
}

func NewGateway(log *slog.Logger, cfg Config, registry contract.IRegistry, sessions *runtime.SessionFactory) *Gateway {
	g := &Gateway{
		log:      log,
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		conns:    make(map[domain.ConnectionID]*websocket.Conn),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// checkOrigin accepts everything when no origin is configured, and requests
// without Origin header (non browser clients).
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(g.cfg.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	return lo.Contains(g.cfg.AllowedOrigins, origin)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := domain.ConnectionID(uuid.NewString())
	if !g.track(id, nil) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		g.log.Debug("Websocket upgrade failed", "error", err)
		g.untrack(id)
		return
	}
	if !g.track(id, conn) {
		_ = conn.Close()
		g.untrack(id)
		return
	}
	g.serve(r.Context(), id, conn)
}

// track reserves a slot for the connection. It fails once Close started.
func (g *Gateway) track(id domain.ConnectionID, conn *websocket.Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	if conn == nil {
		g.wg.Add(1)
		return true
	}
	g.conns[id] = conn
	return true
}

func (g *Gateway) untrack(id domain.ConnectionID) {
	g.mu.Lock()
	delete(g.conns, id)
	g.mu.Unlock()
	g.wg.Done()
}

func (g *Gateway) serve(ctx context.Context, id domain.ConnectionID, conn *websocket.Conn) {
	log := g.log.With("connection", id)
	sink := NewSink(g.cfg.BufferSize)
	g.registry.Connect(id, sink)
	session := g.sessions.NewSession(id)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(log, conn, sink)
	}()

	// Teardown order: retract the session, forget the connection, stop the
	// writer, then close the socket.
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := session.Disconnect(cleanupCtx); err != nil {
			log.Warn("Disconnect did not complete", "error", err)
		}
		g.registry.Disconnect(id)
		sink.Close()
		<-writerDone
		_ = conn.Close()
		g.untrack(id)
		log.Debug("Connection closed")
	}()

	log.Debug("Connection opened")
	if err := sink.Consume(ctx, event.Connected{Connection: id}); err != nil {
		log.Warn("Hello frame not queued", "error", err)
	}
	g.readLoop(ctx, log, conn, session, sink)
}

func (g *Gateway) readLoop(ctx context.Context, log *slog.Logger, conn *websocket.Conn, session *runtime.Session, sink *Sink) {
	if g.cfg.MaxFrameBytes > 0 {
		conn.SetReadLimit(g.cfg.MaxFrameBytes)
	}
	if g.cfg.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("Read failed", "error", err)
			}
			return
		}
		g.handleFrame(ctx, log, session, sink, data)
	}
}

// handleFrame drops malformed frames silently and reports hard failures to
// this connection only.
func (g *Gateway) handleFrame(ctx context.Context, log *slog.Logger, session *runtime.Session, sink *Sink, data []byte) {
	frame, err := decodeFrame(data)
	if err == nil {
		err = frame.dispatch(ctx, session)
	}
	if err == nil {
		return
	}
	if errors.IsSilent(err) {
		log.Debug("Frame dropped", "error", err)
		return
	}

	log.Error("Frame failed", "error", err)
	code := errors.Code(err)
	if err = sink.Consume(ctx, event.Failure{Code: code, Message: failureMessage(code)}); err != nil {
		log.Debug("Error frame not queued", "error", err)
	}
}

func failureMessage(code string) string {
	switch code {
	case "store_unavailable":
		return "message could not be stored, try again"
	case "unavailable":
		return "chat is shutting down"
	default:
		return "request failed"
	}
}

// writeLoop is the only writer of the socket. It stops once the sink is
// closed and its queued frames are written.
func (g *Gateway) writeLoop(log *slog.Logger, conn *websocket.Conn, sink *Sink) {
	var ping <-chan time.Time
	if g.cfg.PongWait > 0 {
		ticker := time.NewTicker(g.cfg.PongWait * 9 / 10)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case frame := <-sink.Frames():
			if err := g.write(conn, websocket.TextMessage, frame); err != nil {
				log.Debug("Write failed", "error", err)
				// Unblock the read loop so teardown runs
				_ = conn.Close()
				g.discard(sink)
				return
			}
		case <-ping:
			if err := g.write(conn, websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				g.discard(sink)
				return
			}
		case <-sink.Done():
			g.flush(log, conn, sink)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(g.writeWait()))
			return
		}
	}
}

func (g *Gateway) flush(log *slog.Logger, conn *websocket.Conn, sink *Sink) {
	for {
		select {
		case frame := <-sink.Frames():
			if err := g.write(conn, websocket.TextMessage, frame); err != nil {
				log.Debug("Flush failed", "error", err)
				return
			}
		default:
			return
		}
	}
}

// discard keeps draining a dead connection's sink until it is closed, so
// producers never wait on it.
func (g *Gateway) discard(sink *Sink) {
	for {
		select {
		case <-sink.Frames():
		case <-sink.Done():
			return
		}
	}
}

func (g *Gateway) write(conn *websocket.Conn, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(g.writeWait())); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

func (g *Gateway) writeWait() time.Duration {
	if g.cfg.WriteWait > 0 {
		return g.cfg.WriteWait
	}
	return 10 * time.Second
}

// ConnectionCount is the number of open sockets.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Close refuses new connections, closes the open ones and waits for their
// teardown, or for ctx to end.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	conns := lo.Values(g.conns)
	g.mu.Unlock()

	deadline := time.Now().Add(g.writeWait())
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), deadline)
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
