package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/config"
	"github.com/opusbook/opusbook/internal/store"
)

type testServer struct {
	*Server
	store  *store.Store
	broker *broker.Broker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.NewWithDB(db, nil)
	if err != nil {
		t.Fatal(err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	b := broker.NewWithClient(rdb, nil)

	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.SecretKey = "test-secret-key-for-signing"
	cfg.APIBaseURL = "http://localhost:8080"
	cfg.Server.DisableRateLimits = true
	cfg.Paths = config.PathsConfig{
		TextData: filepath.Join(root, "text"),
		WavData:  filepath.Join(root, "wav"),
		OggData:  filepath.Join(root, "ogg"),
	}

	srv := New(cfg, st, b, nil)
	if err := srv.paths.EnsureRoots(); err != nil {
		t.Fatal(err)
	}
	return &testServer{Server: srv, store: st, broker: b}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return out
}

// registerAndLogin creates a user through the API and returns a session.
func (ts *testServer) registerAndLogin(t *testing.T, username, email, password string) string {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username":         username,
		"email":            email,
		"password":         password,
		"confirm_password": password,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/auth/login/email", "", map[string]any{
		"email":    email,
		"password": password,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", w.Code, w.Body.String())
	}
	return decodeJSON(t, w)["sessionToken"].(string)
}

// uploadBook submits a small txt book and returns its id.
func (ts *testServer) uploadBook(t *testing.T, token, title string) string {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("title", title)
	mw.WriteField("format", "txt")
	fw, err := mw.CreateFormFile("file", "book.txt")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "A short book. With two sentences.")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/books", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d: %s", w.Code, w.Body.String())
	}
	return decodeJSON(t, w)["book_id"].(string)
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", "", nil)
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("missing Content-Security-Policy")
	}
}

func TestHealthReportsDependencies(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d: %s", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestProtectedEndpointsRequireSession(t *testing.T) {
	ts := newTestServer(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/books"},
		{http.MethodGet, "/auth/profile"},
		{http.MethodPost, "/auth/change-password"},
	} {
		w := ts.do(t, route.method, route.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d, want 401", route.method, route.path, w.Code)
		}
	}

	// Garbage token.
	w := ts.do(t, http.MethodGet, "/api/v1/books", "not-a-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token = %d, want 401", w.Code)
	}
}

func TestResetTokenRejectedOnProtectedEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")

	user, err := ts.store.GetUserByEmail("alice@x.io")
	if err != nil {
		t.Fatal(err)
	}
	reset, _, err := ts.tokens.IssueReset(user.ID, user.Username)
	if err != nil {
		t.Fatal(err)
	}

	w := ts.do(t, http.MethodGet, "/api/v1/books", reset, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("reset token on protected endpoint = %d, want 401", w.Code)
	}
}

func TestRateLimitOnLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.limiter.Disabled = false

	var last int
	for i := 0; i < 6; i++ {
		w := ts.do(t, http.MethodPost, "/auth/login/email", "", map[string]any{
			"email": "nobody@x.io", "password": "wrong",
		})
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("sixth login attempt = %d, want 429", last)
	}
}

func TestGracefulShutdown(t *testing.T) {
	ts := newTestServer(t)
	ts.http.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
