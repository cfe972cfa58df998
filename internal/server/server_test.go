package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/verahub/vera-core/internal/config"
	"github.com/verahub/vera-core/internal/contextstore"
	"github.com/verahub/vera-core/internal/engine"
	"github.com/verahub/vera-core/internal/expert"
	"github.com/verahub/vera-core/internal/intent"
	"github.com/verahub/vera-core/internal/messaging"
)

// tinyStore is the minimal in-memory Adapter the server tests need.
type tinyStore struct {
	mu      sync.Mutex
	records []contextstore.Record
}

func (s *tinyStore) Search(ctx context.Context, q contextstore.Query) ([]contextstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contextstore.Record
	for _, rec := range s.records {
		if rec.Scope == q.Scope {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *tinyStore) Put(ctx context.Context, rec contextstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *tinyStore) Version(ctx context.Context, scope string) (uint64, error) { return 0, nil }

func (s *tinyStore) Close() error { return nil }

func testServer(t *testing.T, port int) *Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Port: port, Host: "localhost"},
	}

	intents := intent.NewRegistry(nil)
	if err := intents.RegisterDefaults(); err != nil {
		t.Fatalf("RegisterDefaults failed: %v", err)
	}

	store := &tinyStore{}
	tracker := expert.NewTracker()
	experts := expert.NewRegistry(tracker)
	if err := expert.RegisterBuiltins(experts, store); err != nil {
		t.Fatalf("RegisterBuiltins failed: %v", err)
	}
	experts.Freeze()

	eng := engine.New(engine.Deps{
		Intents: intents,
		Experts: experts,
		Store:   store,
	})

	return New(cfg, eng, tracker, nil, nil, nil, slog.Default())
}

func TestNew(t *testing.T) {
	srv := testServer(t, 18800)
	if srv == nil {
		t.Fatal("Expected non-nil server")
	}
}

func TestHealthHandler(t *testing.T) {
	srv := testServer(t, 18800)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.healthHandler(w, req)
	resp := w.Result()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	var hr HealthResponse
	json.NewDecoder(resp.Body).Decode(&hr)
	if hr.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", hr.Status)
	}
}

func TestHealthHandlerMethodNotAllowed(t *testing.T) {
	srv := testServer(t, 18800)
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	srv.healthHandler(w, req)
	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Result().StatusCode)
	}
}

func TestAskHandlerFastPath(t *testing.T) {
	srv := testServer(t, 18800)
	body := `{"conversation_id":"c1","scope":"user:alice","utterance":"Add milk to the shopping list"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.askHandler(w, req)
	resp := w.Result()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var er engine.Response
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !er.FastPath {
		t.Error("Expected fast path response")
	}
	if !strings.Contains(er.Reply.Text, "milk") {
		t.Errorf("Expected reply to mention milk, got %q", er.Reply.Text)
	}
}

func TestAskHandlerEmptyUtterance(t *testing.T) {
	srv := testServer(t, 18800)
	body := `{"conversation_id":"c1","scope":"user:alice","utterance":"   "}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.askHandler(w, req)
	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Result().StatusCode)
	}
}

func TestAskHandlerInvalidJSON(t *testing.T) {
	srv := testServer(t, 18800)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.askHandler(w, req)
	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Result().StatusCode)
	}
}

func TestAskHandlerMethodNotAllowed(t *testing.T) {
	srv := testServer(t, 18800)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ask", nil)
	w := httptest.NewRecorder()
	srv.askHandler(w, req)
	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Result().StatusCode)
	}
}

func TestHandlersHealthHandler(t *testing.T) {
	srv := testServer(t, 18800)

	// Drive one successful call so the tracker has something to report.
	body := `{"conversation_id":"c1","scope":"user:alice","utterance":"Add milk to the shopping list"}`
	askReq := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(body))
	srv.askHandler(httptest.NewRecorder(), askReq)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/handlers/health", nil)
	w := httptest.NewRecorder()
	srv.handlersHealthHandler(w, req)
	resp := w.Result()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var status map[string]expert.HandlerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if st, ok := status["list-write"]; !ok || st.Status != "up" {
		t.Errorf("Expected list-write up, got %+v", status)
	}
}

type fakeDLQ struct {
	entries []messaging.DLQEntry
}

func (d *fakeDLQ) Entries(ctx context.Context, count int64) ([]messaging.DLQEntry, error) {
	if int64(len(d.entries)) > count {
		return d.entries[:count], nil
	}
	return d.entries, nil
}

type fakeHeartbeats struct {
	nodes []messaging.Heartbeat
}

func (h *fakeHeartbeats) Nodes() []messaging.Heartbeat { return h.nodes }

func (h *fakeHeartbeats) Alive(node string) bool { return node == "worker-1" }

func TestRemoteStatusHandler(t *testing.T) {
	srv := testServer(t, 18800)
	srv.heartbeats = &fakeHeartbeats{nodes: []messaging.Heartbeat{
		{Node: "worker-1", Handlers: []string{"music-control"}, Seen: time.Now()},
		{Node: "worker-2", Handlers: []string{"weather"}, Seen: time.Now().Add(-time.Hour)},
	}}
	srv.dlq = &fakeDLQ{entries: []messaging.DLQEntry{
		{
			Call:     &messaging.CallMessage{Handler: "music-control"},
			Reason:   "max delivery attempts exceeded",
			Attempts: 3,
			Failed:   time.Now(),
		},
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/experts/remote", nil)
	w := httptest.NewRecorder()
	srv.remoteStatusHandler(w, req)
	resp := w.Result()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var rs remoteStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&rs); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !rs.Enabled {
		t.Error("Expected remote experts reported enabled")
	}
	if len(rs.Nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(rs.Nodes))
	}
	alive := map[string]bool{}
	for _, n := range rs.Nodes {
		alive[n.Node] = n.Alive
	}
	if !alive["worker-1"] || alive["worker-2"] {
		t.Errorf("Expected worker-1 alive and worker-2 dead, got %+v", alive)
	}
	if len(rs.DeadLetters) != 1 || rs.DeadLetters[0].Handler != "music-control" {
		t.Errorf("Expected one music-control dead letter, got %+v", rs.DeadLetters)
	}
}

func TestRemoteStatusHandlerDisabled(t *testing.T) {
	srv := testServer(t, 18800)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/experts/remote", nil)
	w := httptest.NewRecorder()
	srv.remoteStatusHandler(w, req)
	var rs remoteStatusResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&rs); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rs.Enabled {
		t.Error("Expected remote experts reported disabled")
	}
	if len(rs.Nodes) != 0 || len(rs.DeadLetters) != 0 {
		t.Errorf("Expected empty status, got %+v", rs)
	}
}

func TestShutdown(t *testing.T) {
	srv := testServer(t, 18801)
	go srv.Start()
	time.Sleep(100 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
