package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opusbook/opusbook/internal/signing"
	"github.com/opusbook/opusbook/internal/store"
)

// seedChunks writes n small ogg files for the book and registers them.
func (ts *testServer) seedChunks(t *testing.T, bookID string, n int) {
	t.Helper()

	if err := os.MkdirAll(ts.paths.OggDir(bookID), 0o755); err != nil {
		t.Fatal(err)
	}
	records := make([]store.ChunkRecord, n)
	for i := 0; i < n; i++ {
		path := ts.paths.OggFile(bookID, i)
		data := []byte(fmt.Sprintf("OggS-chunk-%d", i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		records[i] = store.ChunkRecord{
			Seq:       i,
			DurationS: 3.14,
			FilePath:  path,
			FileSize:  int64(len(data)),
		}
	}
	if err := ts.store.ReplaceChunks(bookID, records); err != nil {
		t.Fatal(err)
	}
}

func TestListChunks(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, token, "T")
	ts.seedChunks(t, bookID, 3)

	w := ts.do(t, http.MethodGet, "/api/v1/books/"+bookID+"/chunks", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list chunks = %d: %s", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	if body["total_chunks"].(float64) != 3 {
		t.Errorf("total_chunks = %v", body["total_chunks"])
	}
	if got := body["total_duration_s"].(float64); got < 9.41 || got > 9.43 {
		t.Errorf("total_duration_s = %v", got)
	}
	chunks := body["chunks"].([]any)
	first := chunks[0].(map[string]any)
	if first["url"] != signing.ChunkPath(bookID, 0) {
		t.Errorf("chunk url = %v", first["url"])
	}
}

func TestGetChunkWithBearerAndQueryToken(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, token, "T")
	ts.seedChunks(t, bookID, 1)

	path := signing.ChunkPath(bookID, 0)

	w := ts.do(t, http.MethodGet, path, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer fetch = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/ogg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}
	if w.Header().Get("Cache-Control") != "public, max-age=3600" {
		t.Errorf("Cache-Control = %q", w.Header().Get("Cache-Control"))
	}

	// Same chunk through the ?token fallback for <audio> elements.
	w = ts.do(t, http.MethodGet, path+"?token="+url.QueryEscape(token), "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("query token fetch = %d", w.Code)
	}
}

func TestGetChunkConditionalRequest(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, token, "T")
	ts.seedChunks(t, bookID, 1)

	path := signing.ChunkPath(bookID, 0)
	w := ts.do(t, http.MethodGet, path, token, nil)
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("no ETag on first fetch")
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional fetch = %d, want 304", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 carried a body of %d bytes", rec.Body.Len())
	}
}

func TestSignedURLRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, token, "T")
	ts.seedChunks(t, bookID, 1)

	w := ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/books/%s/chunks/0/signed-url", bookID), token,
		map[string]any{"expires_in": 120})
	if w.Code != http.StatusOK {
		t.Fatalf("signed-url = %d: %s", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	if body["expires_in"].(float64) != 120 {
		t.Errorf("expires_in = %v", body["expires_in"])
	}
	signed := body["url"].(string)

	// The signed URL works with no Authorization header at all.
	u, err := url.Parse(signed)
	if err != nil {
		t.Fatal(err)
	}
	w = ts.do(t, http.MethodGet, u.Path+"?"+u.RawQuery, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("signed fetch = %d: %s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Body.String(), "OggS") {
		t.Errorf("chunk body = %q", w.Body.String())
	}
}

func TestSignedURLRejections(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, token, "T")
	ts.seedChunks(t, bookID, 1)

	path := signing.ChunkPath(bookID, 0)
	future := time.Now().Add(time.Hour).Unix()
	past := time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name   string
		query  string
		detail string
	}{
		{
			name: "tampered signature",
			query: fmt.Sprintf("expires=%d&signature=%s&token=%s",
				future, strings.Repeat("0", 64), url.QueryEscape(token)),
			detail: "Invalid signature",
		},
		{
			name: "expired",
			query: fmt.Sprintf("expires=%d&signature=%s&token=%s",
				past, ts.signer.Sign(path, past, token), url.QueryEscape(token)),
			detail: "Signed URL has expired",
		},
		{
			name:   "missing token",
			query:  fmt.Sprintf("expires=%d&signature=%s", future, strings.Repeat("0", 64)),
			detail: "missing required parameters",
		},
		{
			name: "signature over different path",
			query: fmt.Sprintf("expires=%d&signature=%s&token=%s",
				future, ts.signer.Sign(signing.ChunkPath(bookID, 1), future, token), url.QueryEscape(token)),
			detail: "Invalid signature",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, path+"?"+tt.query, "", nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("code = %d, want 401: %s", w.Code, w.Body.String())
			}
			if detail := decodeJSON(t, w)["detail"].(string); !strings.Contains(detail, tt.detail) {
				t.Errorf("detail = %q, want %q", detail, tt.detail)
			}
		})
	}
}

func TestSignedURLExpiryBounds(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, token, "T")
	ts.seedChunks(t, bookID, 1)

	issue := func(expiresIn int) float64 {
		w := ts.do(t, http.MethodPost,
			fmt.Sprintf("/api/v1/books/%s/chunks/0/signed-url", bookID), token,
			map[string]any{"expires_in": expiresIn})
		if w.Code != http.StatusOK {
			t.Fatalf("signed-url(%d) = %d: %s", expiresIn, w.Code, w.Body.String())
		}
		return decodeJSON(t, w)["expires_in"].(float64)
	}

	if got := issue(-5); got != 1 {
		t.Errorf("expires_in -5 clamped to %v, want 1", got)
	}
	if got := issue(999999); got != 86400 {
		t.Errorf("expires_in 999999 clamped to %v, want 86400", got)
	}
}

func TestSignedURLForMissingChunk(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, token, "T")

	w := ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/books/%s/chunks/7/signed-url", bookID), token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("signed-url for missing chunk = %d, want 404", w.Code)
	}
}

func TestBatchSignedURLs(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, token, "T")
	ts.seedChunks(t, bookID, 20)

	seqs := func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}

	w := ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/books/%s/chunks/batch-signed-urls", bookID), token,
		map[string]any{"chunks": seqs(20)})
	if w.Code != http.StatusOK {
		t.Fatalf("batch of 20 = %d: %s", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	urls := body["signed_urls"].(map[string]any)
	if len(urls) != 20 {
		t.Errorf("got %d urls, want 20", len(urls))
	}
	if _, ok := urls["0"]; !ok {
		t.Error("seq 0 missing from batch response")
	}

	// Missing chunks are skipped, not fatal.
	w = ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/books/%s/chunks/batch-signed-urls", bookID), token,
		map[string]any{"chunks": []int{0, 999}})
	if w.Code != http.StatusOK {
		t.Fatalf("batch with missing chunk = %d", w.Code)
	}
	if got := len(decodeJSON(t, w)["signed_urls"].(map[string]any)); got != 1 {
		t.Errorf("got %d urls, want 1", got)
	}

	for _, tt := range []struct {
		name   string
		chunks []int
	}{
		{"over limit", seqs(21)},
		{"empty", nil},
		{"negative seq", []int{0, -1}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost,
				fmt.Sprintf("/api/v1/books/%s/chunks/batch-signed-urls", bookID), token,
				map[string]any{"chunks": tt.chunks})
			if w.Code != http.StatusUnprocessableEntity {
				t.Errorf("code = %d, want 422: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestChunkCrossUserIsolation(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bob := ts.registerAndLogin(t, "bob", "bob@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, alice, "T")
	ts.seedChunks(t, bookID, 1)

	path := signing.ChunkPath(bookID, 0)

	// Bearer access by a non-owner is not-found, not forbidden.
	w := ts.do(t, http.MethodGet, path, bob, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("cross-user chunk fetch = %d, want 404", w.Code)
	}

	// A valid signature over bob's token still fails ownership.
	expires := time.Now().Add(time.Hour).Unix()
	query := fmt.Sprintf("expires=%d&signature=%s&token=%s",
		expires, ts.signer.Sign(path, expires, bob), url.QueryEscape(bob))
	w = ts.do(t, http.MethodGet, path+"?"+query, "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("signed cross-user fetch = %d, want 404", w.Code)
	}

	// Bob cannot mint signed URLs for alice's book either.
	w = ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/books/%s/chunks/0/signed-url", bookID), bob, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("cross-user signed-url = %d, want 404", w.Code)
	}
}
