package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
	"github.com/AbuAli85/smartprohub-sub000/internal/config"
	"github.com/AbuAli85/smartprohub-sub000/internal/marketplace"
	"github.com/AbuAli85/smartprohub-sub000/internal/messenger"
	"github.com/AbuAli85/smartprohub-sub000/internal/notify"
	"github.com/AbuAli85/smartprohub-sub000/internal/platform"
	"github.com/AbuAli85/smartprohub-sub000/internal/status"
	"github.com/AbuAli85/smartprohub-sub000/internal/store"
)

// Unsigned token with sub=user-1, role=client.
const testToken = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
	"eyJzdWIiOiJ1c2VyLTEiLCJyb2xlIjoiY2xpZW50In0." +
	"c2ln"

// fakeUpstream mocks the hosted platform REST API.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "hunter2" {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": testToken})
	})
	mux.HandleFunc("GET /v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("GET /v1/messages/unread-counts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("POST /v1/conversations/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	router  http.Handler
	db      *store.DB
	machine *status.Machine
	client  *platform.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	upstream := fakeUpstream(t)

	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := bus.New()
	logger := zap.NewNop()
	machine := status.NewMachine(b)
	notifier := notify.New(b, logger)
	client := platform.NewClient(config.PlatformConfig{BaseURL: upstream.URL}, logger)
	msg := messenger.New(db, client, nil, notifier, b, logger)
	mkt := marketplace.New(db, client, logger)

	h := NewHandlers("test", machine, client, msg, mkt, notifier, b, logger)
	return &fixture{router: h.Router(), db: db, machine: machine, client: client}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Profile string `json:"profile"`
		State   string `json:"state"`
		UserID  string `json:"user_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Profile != "test" {
		t.Errorf("profile = %q", resp.Profile)
	}
	if resp.State != string(status.Booting) {
		t.Errorf("state = %q, want BOOTING", resp.State)
	}
	if resp.UserID != "" {
		t.Errorf("user_id = %q before login", resp.UserID)
	}
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t)
	if err := f.machine.Transition(status.AuthRequired); err != nil {
		t.Fatal(err)
	}

	w := f.do(t, "POST", "/v1/login", `{"email":"me@example.com","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", w.Code)
	}

	w = f.do(t, "POST", "/v1/login", `{"email":"me@example.com","password":"hunter2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserID != "user-1" || resp.Role != "client" {
		t.Errorf("identity = %+v", resp)
	}
	if f.machine.Current() != status.Connecting {
		t.Errorf("state = %s after login, want CONNECTING", f.machine.Current())
	}

	w = f.do(t, "POST", "/v1/logout", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", w.Code)
	}
	if f.client.SignedIn() {
		t.Error("still signed in after logout")
	}
}

func TestConversationEndpointsRequireAuth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/v1/conversations", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("conversations status = %d, want 401", w.Code)
	}
	w = f.do(t, "POST", "/v1/conversations/c1/messages", `{"content":"hi"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("send status = %d, want 401", w.Code)
	}
}

func TestSendAndListMessages(t *testing.T) {
	f := newFixture(t)
	f.mustLogin(t)

	if err := f.db.UpsertConversation(&store.Conversation{ID: "c1", UnreadCount: -1}); err != nil {
		t.Fatal(err)
	}

	w := f.do(t, "POST", "/v1/conversations/c1/messages", `{"content":"hello"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("send status = %d: %s", w.Code, w.Body.String())
	}
	var msg store.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Status != store.StatusSending {
		t.Errorf("status = %s, want sending", msg.Status)
	}

	w = f.do(t, "GET", "/v1/conversations/c1/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var msgs []store.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != msg.MsgID {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestToastsEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/v1/toasts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("toasts status = %d", w.Code)
	}
	var toasts []notify.Toast
	if err := json.Unmarshal(w.Body.Bytes(), &toasts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(toasts) != 0 {
		t.Errorf("toasts = %+v", toasts)
	}
}

func (f *fixture) mustLogin(t *testing.T) {
	t.Helper()
	if err := f.machine.Transition(status.AuthRequired); err != nil {
		t.Fatal(err)
	}
	w := f.do(t, "POST", "/v1/login", `{"email":"me@example.com","password":"hunter2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
}
