package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/manpreetbhatti/inkroom/internal/api"
	"github.com/manpreetbhatti/inkroom/internal/auth"
	"github.com/manpreetbhatti/inkroom/internal/db"
	"github.com/manpreetbhatti/inkroom/internal/document"
	"github.com/manpreetbhatti/inkroom/internal/ws"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	database *db.Database
	verifier *auth.Verifier
}

func setupTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "inkroom-session-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	hub := ws.NewHub(database)
	go hub.Run()

	verifier := auth.NewVerifier(testSecret)
	mux := http.NewServeMux()
	api.New(hub, database).Register(mux)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, verifier, w, r)
	})

	srv := &testServer{Server: httptest.NewServer(mux), database: database, verifier: verifier}
	cleanup := func() {
		srv.Close()
		hub.Stop()
		database.Close()
		os.RemoveAll(tmpDir)
	}
	return srv, cleanup
}

func (s *testServer) config(token, slug string) Config {
	return Config{
		HTTPBase:       s.URL,
		WSURL:          "ws" + strings.TrimPrefix(s.URL, "http") + "/ws",
		Token:          token,
		Slug:           slug,
		ReconnectDelay: 50 * time.Millisecond,
	}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.verifier.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

func (s *testServer) roomID(t *testing.T, slug string) int64 {
	t.Helper()
	room, err := s.database.GetOrCreateRoom(context.Background(), slug, "")
	if err != nil {
		t.Fatalf("Failed to resolve room: %v", err)
	}
	return room.ID
}

// recorder collects observer callbacks. They fire on the session loop.
type recorder struct {
	mu       sync.Mutex
	count    int
	elements []document.Element
	chats    []string
}

func (r *recorder) observers() Observers {
	return Observers{
		OnChange: func(elements []document.Element, cursor int) {
			r.mu.Lock()
			r.elements = elements
			r.mu.Unlock()
		},
		OnPresence: func(count int) {
			r.mu.Lock()
			r.count = count
			r.mu.Unlock()
		},
		OnChat: func(userID, message string) {
			r.mu.Lock()
			r.chats = append(r.chats, userID+": "+message)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) presence() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.elements)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type running struct {
	*Session
	rec    *recorder
	cancel context.CancelFunc
	errc   chan error
}

func start(cfg Config) *running {
	rec := &recorder{}
	s := New(cfg, WithObservers(rec.observers()))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	return &running{Session: s, rec: rec, cancel: cancel, errc: errc}
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.errc:
		if err != context.Canceled {
			t.Errorf("Expected Run to return context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func drawRect(t *testing.T, s *running, x0, y0, x1, y1 float64) {
	t.Helper()
	for _, err := range []error{
		s.SetTool(ToolRectangle),
		s.PointerDown(x0, y0),
		s.PointerMove(x1, y1),
		s.PointerUp(x1, y1),
	} {
		if err != nil {
			t.Fatalf("Pointer input failed: %v", err)
		}
	}
}

func storedCount(t *testing.T, srv *testServer, roomID int64) int {
	t.Helper()
	resp, err := http.Get(srv.URL + "/drawings/" + strconv.FormatInt(roomID, 10))
	if err != nil {
		t.Fatalf("GET drawings failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Drawings []json.RawMessage `json:"drawings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode drawings: %v", err)
	}
	return len(body.Drawings)
}

func TestSessionsStayInSync(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	a := start(srv.config(srv.token(t, "user-a"), "sync"))
	defer a.stop(t)
	b := start(srv.config(srv.token(t, "user-b"), "sync"))
	defer b.stop(t)

	waitFor(t, "both peers present", func() bool { return a.rec.presence() == 2 && b.rec.presence() == 2 })

	drawRect(t, a, 10, 10, 60, 40)
	waitFor(t, "drawing on B", func() bool { return b.rec.len() == 1 })

	got, err := b.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if r := got[0]; r.Type != document.Rectangle || r.Width != 50 || r.Height != 30 {
		t.Errorf("Unexpected element on B: %+v", r)
	}

	roomID := srv.roomID(t, "sync")
	waitFor(t, "drawing persisted", func() bool { return storedCount(t, srv, roomID) == 1 })

	a.Undo()
	waitFor(t, "undo on B", func() bool { return b.rec.len() == 0 })
	waitFor(t, "undo persisted", func() bool { return storedCount(t, srv, roomID) == 0 })

	a.Redo()
	waitFor(t, "redo on B", func() bool { return b.rec.len() == 1 })
	waitFor(t, "redo persisted", func() bool { return storedCount(t, srv, roomID) == 1 })

	b.SendChat("looks good")
	waitFor(t, "chat on A", func() bool {
		a.rec.mu.Lock()
		defer a.rec.mu.Unlock()
		return len(a.rec.chats) == 1 && a.rec.chats[0] == "user-b: looks good"
	})
}

func TestGuestEditsAreNotStored(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	watcher := start(srv.config(srv.token(t, "user-w"), "guests"))
	defer watcher.stop(t)
	guest := start(srv.config(auth.NewGuestToken(), "guests"))

	waitFor(t, "guest present", func() bool { return watcher.rec.presence() == 2 })

	drawRect(t, guest, 0, 0, 20, 20)
	drawRect(t, guest, 40, 40, 80, 80)
	waitFor(t, "guest drawings relayed", func() bool { return watcher.rec.len() == 2 })

	guest.stop(t)
	waitFor(t, "guest gone", func() bool { return watcher.rec.presence() == 1 })

	if n := storedCount(t, srv, srv.roomID(t, "guests")); n != 0 {
		t.Errorf("Guest edits should not be stored, found %d", n)
	}
}

func TestSessionHydratesFromStore(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	defer cleanup()

	roomID := srv.roomID(t, "stored")
	srv.database.InsertDrawing(context.Background(), roomID, "c1",
		`{"id":"c1","type":"circle","x":50,"y":50,"radius":20,"strokeColor":"#000000","strokeWidth":2}`, "user-1")
	srv.database.InsertDrawing(context.Background(), roomID, "bad", `{"id":"bad","type":"hexagon"}`, "user-1")

	s := start(srv.config(srv.token(t, "user-a"), "stored"))
	defer s.stop(t)

	waitFor(t, "hydration", func() bool { return s.rec.len() == 1 })
	got, _ := s.Snapshot()
	if got[0].ID != "c1" || got[0].Radius != 20 {
		t.Errorf("Expected stored circle, got %+v", got[0])
	}
}

func TestOfflineInputStillApplies(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	cfg := srv.config(srv.token(t, "user-a"), "offline")
	cleanup()

	s := start(cfg)
	defer s.stop(t)

	if err := s.EnterText(10, 30, "offline note"); err != nil {
		t.Fatalf("EnterText failed: %v", err)
	}
	got, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(got) != 1 || got[0].Text != "offline note" {
		t.Errorf("Offline input should apply locally, got %+v", got)
	}
}

func TestCallsAfterRunReturn(t *testing.T) {
	srv, cleanup := setupTestServer(t)
	cfg := srv.config(srv.token(t, "user-a"), "closed")
	cleanup()

	s := start(cfg)
	s.stop(t)

	if err := s.Undo(); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestInputServedWhileConnecting(t *testing.T) {
	hit := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case hit <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer slow.Close()
	defer close(release)

	s := start(Config{
		HTTPBase:       slow.URL,
		WSURL:          "ws" + strings.TrimPrefix(slow.URL, "http") + "/ws",
		Token:          auth.NewGuestToken(),
		Slug:           "pending",
		ReconnectDelay: time.Hour,
	})
	defer s.stop(t)

	select {
	case <-hit:
	case <-time.After(3 * time.Second):
		t.Fatal("Session never asked for the room")
	}

	done := make(chan error, 1)
	go func() { done <- s.EnterText(10, 30, "while dialing") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("EnterText failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Input blocked behind the room lookup")
	}

	got, err := s.Snapshot()
	if err != nil || len(got) != 1 {
		t.Errorf("Expected the text element, got %+v (%v)", got, err)
	}
}
