package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-sketchpad/internal/collab"
	"collaborative-sketchpad/internal/domain"
	"collaborative-sketchpad/internal/dto"
)

func newAPIServer(t *testing.T) (*httptest.Server, *[]dto.PublishRequest) {
	t.Helper()
	var published []dto.PublishRequest
	mux := http.NewServeMux()
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Authorization header is required"}`))
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/api/sketchpads/1/strokes", auth(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"strokes": []dto.HistoryEntry{{Stroke: domain.Action{ID: 1, Kind: domain.KindClear, User: "u"}, Deleted: true}},
			})
		case http.MethodPost:
			var req dto.PublishRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			published = append(published, req)
			_, _ = w.Write([]byte(`{"published":1}`))
		}
	}))
	mux.HandleFunc("/api/sketchpads/1/join", auth(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dto.JoinResponse{Strokes: []domain.Action{{ID: 2, Kind: domain.KindClear, User: "v"}}})
	}))
	mux.HandleFunc("/api/sketchpads/2/join", auth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"sketchpad not found"}`))
	}))
	mux.HandleFunc("/api/sketchpads/sync", auth(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sketchpads":0,"strokes":0}`))
	}))
	mux.HandleFunc("/api/auth/guest", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"tok","user":"Gabc"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &published
}

func TestHTTPStore_RoundTrips(t *testing.T) {
	srv, published := newAPIServer(t)
	store := NewHTTPStore(srv.URL+"/", "")
	ctx := context.Background()

	_, err := store.LoadHistory(ctx, 1)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	user, err := store.Guest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Gabc", user)
	assert.Equal(t, "tok", store.Token())

	history, err := store.LoadHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Deleted)

	pending, err := store.LoadPendingCache(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "v", pending[0].User)

	require.NoError(t, store.Publish(ctx, 1, []domain.Action{{ID: 3, Kind: domain.KindClear, User: "Gabc"}}))
	require.Len(t, *published, 1)
	assert.Equal(t, 3, (*published)[0].StrokeActions[0].ID)

	require.NoError(t, store.SyncCacheToDatabase(ctx))

	_, err = store.LoadPendingCache(ctx, 2)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "sketchpad not found", apiErr.Message)
}

func TestWebSocketURL(t *testing.T) {
	u, err := WebSocketURL("http://localhost:8080/", 4, "abc")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws/sketchpads/4?token=abc", u)

	u, err = WebSocketURL("https://example.com/app", 4, "")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/app/ws/sketchpads/4", u)

	_, err = WebSocketURL("ftp://example.com", 4, "")
	assert.Error(t, err)
}

type recordingDeliverer struct {
	mu  sync.Mutex
	raw [][]byte
}

func (d *recordingDeliverer) DeliverRaw(raw []byte) (collab.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.raw = append(d.raw, raw)
	return collab.OutcomeQueued, nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.raw)
}

func TestTransport_DeliversMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotToken := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg, _ := json.Marshal(dto.NewUpdateCanvas(1, []domain.Action{{ID: 1, Kind: domain.KindClear, User: "x"}}))
		_ = conn.WriteMessage(websocket.TextMessage, msg)
		// 等待客户端关闭
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	target := &recordingDeliverer{}
	tr, err := Dial(context.Background(), srv.URL, 1, "tok", target, nil)
	require.NoError(t, err)
	assert.Equal(t, "tok", <-gotToken)

	require.Eventually(t, func() bool { return target.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	batch, err := dto.DecodeUpdateCanvas(target.raw[0])
	require.NoError(t, err)
	assert.Equal(t, uint(1), batch.SketchpadID)

	require.NoError(t, tr.Close())
	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("transport not done after Close")
	}
}
