// Package internal wires the chat engine from its configuration.
package internal

import (
	"context"
	"fmt"
	"groupchat/infrastructure/api"
	"groupchat/infrastructure/websocket"
	"groupchat/moderation"
	"groupchat/observability"
	"groupchat/repositories"
	"groupchat/runtime"
	"groupchat/runtime/workers"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// App owns every long lived component but the database, which its caller
// opens and closes.
type App struct {
	log          *slog.Logger
	messages     *repositories.MessageRepository
	registry     *runtime.Registry
	orchestrator *runtime.Orchestrator
	gateway      *websocket.Gateway
	handler      http.Handler
}

func NewApp(log *slog.Logger, config Config, db *badger.DB) (*App, error) {
	messages := repositories.NewMessageRepository(db, log)
	registry := runtime.NewRegistry()
	router := runtime.NewRouter(log, registry, config.DeliveryTimeout).WithEncoder(websocket.EncodeEvent)

	service := runtime.NewRoomService(log, registry, router, messages)
	if config.ModerationEnabled {
		moderator, err := newModerator(log, config.ModerationCharReplacement)
		if err != nil {
			return nil, err
		}
		service.WithModerator(moderator)
	}

	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(log, supervisor, service, registry,
		config.RoomMailboxSize, config.RoomIdleTimeout)

	sessions := runtime.NewSessionFactory(log, orchestrator, router)
	if config.RequireKnownUsers {
		sessions.WithKnownUsers(repositories.NewUserRepository(db))
	}

	gateway := websocket.NewGateway(log, websocket.Config{
		BufferSize:     config.ConnectionBufferSize,
		MaxFrameBytes:  config.MaxFrameBytes,
		PongWait:       config.PongWait,
		WriteWait:      config.WriteWait,
		AllowedOrigins: config.Origins(),
	}, registry, sessions)

	stats := observability.NewCollector(log, registry, orchestrator)
	handler := api.NewHandler(log, gateway, messages, stats).Routes()

	return &App{
		log:          log,
		messages:     messages,
		registry:     registry,
		orchestrator: orchestrator,
		gateway:      gateway,
		handler:      handler,
	}, nil
}

// newModerator loads the embedded dictionaries and builds the automaton.
func newModerator(log *slog.Logger, replacement string) (*moderation.Moderator, error) {
	char, err := CharacterRune(replacement)
	if err != nil {
		return nil, err
	}
	data, err := runtime.NewCensoredLoader(runtime.CensoredFolder).LoadAll(runtime.CensoredDir)
	if err != nil {
		return nil, fmt.Errorf("censored words: %w", err)
	}
	log.Info(fmt.Sprintf("%d censored files loaded [%s]", len(data.Languages), strings.Join(data.Languages, ",")))
	log.Info(fmt.Sprintf("%d unique censored words loaded", len(data.Words)))
	return moderation.NewModerator(data.Words, char, log)
}

func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Start(ctx context.Context) {
	a.orchestrator.Start(ctx)
}

// Close disconnects every client, stops the room workers and releases the
// store. The HTTP server must already be shut down.
func (a *App) Close(ctx context.Context) error {
	gatewayErr := a.gateway.Close(ctx)
	if gatewayErr != nil {
		a.log.Warn("Some connections did not close in time", "error", gatewayErr)
	}
	a.orchestrator.Stop()
	if err := a.messages.Close(); err != nil {
		return fmt.Errorf("message store: %w", err)
	}
	return gatewayErr
}
