package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/viso-labs/internal/api"
	"github.com/ashureev/viso-labs/internal/domain"
	"github.com/ashureev/viso-labs/internal/identity"
	"github.com/ashureev/viso-labs/internal/lesson"
	"github.com/ashureev/viso-labs/internal/store"
	"github.com/coder/websocket"
)

const testLearner = "anon_0123456789abcdef0123456789abcdef"

type touchRepo struct {
	store.Repository
	touches atomic.Int32
}

func (r *touchRepo) UpdateLastSeen(context.Context, string, time.Time) error {
	r.touches.Add(1)
	return nil
}

type stubPractice struct {
	mu    sync.Mutex
	turns []string
	err   error
}

func (s *stubPractice) Current(context.Context, string) (*api.PracticeView, error) {
	return &api.PracticeView{Session: &domain.Session{ID: "s-1"}}, nil
}

func (s *stubPractice) Turn(_ context.Context, _ string, message string) (*api.TurnView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.turns = append(s.turns, message)
	return &api.TurnView{
		PracticeView: api.PracticeView{Session: &domain.Session{ID: "s-1"}},
		Outcome:      lesson.OutcomeContinue,
		Feedback:     "Nice!",
	}, nil
}

type received struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Status int             `json:"status"`
}

func newLiveServer(t *testing.T, practice Practice) (*httptest.Server, *Hub, *touchRepo) {
	t.Helper()
	repo := &touchRepo{}
	hub := NewHub(nil)
	h := NewHandler(repo, practice, hub, "", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithLearner(r.Context(), testLearner)))
	}))
	t.Cleanup(srv.Close)
	return srv, hub, repo
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg received
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(v)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestConnectSendsState(t *testing.T) {
	srv, _, _ := newLiveServer(t, &stubPractice{})
	conn := dial(t, srv)

	msg := readMsg(t, conn)
	if msg.Type != "state" || !strings.Contains(string(msg.Data), `"s-1"`) {
		t.Fatalf("expected initial state, got %+v", msg)
	}
}

func TestPingPong(t *testing.T) {
	srv, _, repo := newLiveServer(t, &stubPractice{})
	conn := dial(t, srv)
	readMsg(t, conn)

	send(t, conn, `{"type":"ping"}`)
	if msg := readMsg(t, conn); msg.Type != "pong" {
		t.Fatalf("expected pong, got %+v", msg)
	}

	deadline := time.Now().Add(2 * time.Second)
	for repo.touches.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if repo.touches.Load() == 0 {
		t.Fatal("expected last seen to be updated")
	}
}

func TestTurnIsBroadcastToAllTabs(t *testing.T) {
	practice := &stubPractice{}
	srv, hub, _ := newLiveServer(t, practice)
	first := dial(t, srv)
	readMsg(t, first)
	second := dial(t, srv)
	readMsg(t, second)

	if n := hub.Count(testLearner); n != 2 {
		t.Fatalf("expected 2 connections, got %d", n)
	}

	send(t, first, `{"type":"turn","content":"a red ball"}`)
	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMsg(t, conn)
		if msg.Type != "turn" || !strings.Contains(string(msg.Data), "Nice!") {
			t.Fatalf("expected turn broadcast, got %+v", msg)
		}
	}
	practice.mu.Lock()
	defer practice.mu.Unlock()
	if len(practice.turns) != 1 || practice.turns[0] != "a red ball" {
		t.Fatalf("unexpected turns: %v", practice.turns)
	}
}

func TestTurnErrorsCarryStatus(t *testing.T) {
	srv, _, _ := newLiveServer(t, &stubPractice{err: api.ErrBusy})
	conn := dial(t, srv)
	readMsg(t, conn)

	send(t, conn, `{"type":"turn","content":"a dog"}`)
	msg := readMsg(t, conn)
	if msg.Type != "error" || msg.Status != http.StatusConflict {
		t.Fatalf("expected 409 error, got %+v", msg)
	}

	send(t, conn, `{"type":"turn"}`)
	if msg := readMsg(t, conn); msg.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %+v", msg)
	}

	send(t, conn, `not json`)
	if msg := readMsg(t, conn); msg.Type != "error" {
		t.Fatalf("expected error for bad json, got %+v", msg)
	}
}

func TestCloseLearner(t *testing.T) {
	var open atomic.Int32
	hub := NewHub(func(delta int) { open.Add(int32(delta)) })
	h := NewHandler(&touchRepo{}, &stubPractice{}, hub, "", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithLearner(r.Context(), testLearner)))
	}))
	defer srv.Close()

	conn := dial(t, srv)
	readMsg(t, conn)
	if open.Load() != 1 {
		t.Fatalf("expected 1 open connection, got %d", open.Load())
	}

	go hub.CloseLearner(testLearner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
	if hub.Count(testLearner) != 0 {
		t.Fatal("expected no tracked connections")
	}
}

func TestRejectsForeignOriginInProduction(t *testing.T) {
	h := NewHandler(&touchRepo{}, &stubPractice{}, NewHub(nil), "https://viso.example", false)
	req := httptest.NewRequest(http.MethodGet, "/ws/practice", nil)
	req.Header.Set("Origin", "https://evil.example")
	req = req.WithContext(identity.WithLearner(req.Context(), testLearner))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
