package api

import (
	"encoding/json"
	"groupchat/domain"
	"groupchat/errors"
	"groupchat/infrastructure/websocket"
	"groupchat/mocks"
	"groupchat/observability"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type staticStats struct{}

func (staticStats) Collect() observability.Stats {
	return observability.Stats{Connections: 2, Rooms: 1}
}

func newTestHandler(t *testing.T) (http.Handler, *mocks.MockIMessageRepository) {
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockIMessageRepository(ctrl)
	handler := NewHandler(logs.GetLoggerFromLevel(slog.LevelDebug), http.NotFoundHandler(), messages, staticStats{})
	return handler.Routes(), messages
}

func TestHandler_History(t *testing.T) {
	req := require.New(t)
	routes, messages := newTestHandler(t)
	stored := []domain.Message{
		{ID: "m1", Room: "g 1", Username: "alice", Body: "hi", Time: "2024-03-09T13:05:07.000Z"},
		{ID: "m2", Room: "g 1", Username: "bob", Image: "https://img/cat.png", Time: "2024-03-09T13:05:08.000Z"},
	}
	messages.EXPECT().History(domain.RoomID("g 1")).Return(stored, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/g%201", nil))

	req.Equal(http.StatusOK, rec.Code)
	req.Equal("application/json", rec.Header().Get("Content-Type"))
	var views []websocket.MessageView
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &views))
	req.Equal(websocket.NewMessageViews(stored), views)
}

func TestHandler_History_Of_Unknown_Room_Is_Empty(t *testing.T) {
	req := require.New(t)
	routes, messages := newTestHandler(t)
	messages.EXPECT().History(domain.RoomID("nowhere")).Return([]domain.Message{}, nil)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/nowhere", nil))

	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`[]`, rec.Body.String())
}

func TestHandler_History_Store_Down(t *testing.T) {
	req := require.New(t)
	routes, messages := newTestHandler(t)
	messages.EXPECT().History(gomock.Any()).Return(nil, errors.ErrStoreUnavailable)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/g1", nil))

	req.Equal(http.StatusServiceUnavailable, rec.Code)
	req.JSONEq(`{"error":"store_unavailable"}`, rec.Body.String())
}

func TestHandler_Stats_And_Health(t *testing.T) {
	req := require.New(t)
	routes, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/stats", nil))
	req.Equal(http.StatusOK, rec.Code)
	var stats observability.Stats
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &stats))
	req.Equal(2, stats.Connections)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	req.Equal(http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	req.Equal(http.StatusMethodNotAllowed, rec.Code)
}
