package server

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/store"
)

func multipartUpload(t *testing.T, fields map[string]string, filename string, size int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(bytes.Repeat([]byte("a"), size))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestSubmitBookHappyPath(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")

	bookID := ts.uploadBook(t, token, "T")

	// Row is pending at creation, the upload is stored, and the pipeline
	// was kicked off.
	book, err := ts.store.GetBook(bookID)
	if err != nil {
		t.Fatal(err)
	}
	if book.Title != "T" || book.Format != store.FormatTXT {
		t.Errorf("book = %+v", book)
	}
	if _, err := os.Stat(book.FilePath); err != nil {
		t.Errorf("upload file missing: %v", err)
	}
	if !strings.Contains(book.FilePath, "uploads/"+bookID) {
		t.Errorf("upload path = %s", book.FilePath)
	}

	var task broker.Task
	if err := ts.broker.Pop(context.Background(), broker.ExtractQueue, time.Second, &task); err != nil {
		t.Fatalf("no extract task: %v", err)
	}
	if task.BookID != bookID || task.FilePath != book.FilePath {
		t.Errorf("task = %+v", task)
	}
}

func TestSubmitBookFormatMismatch(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")

	body, contentType := multipartUpload(t, map[string]string{
		"title": "T", "format": "pdf",
	}, "book.txt", 10)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/books", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("mismatched upload = %d, want 400", w.Code)
	}
	detail := decodeJSON(t, w)["detail"].(string)
	if !strings.Contains(detail, ".txt") || !strings.Contains(detail, "pdf") {
		t.Errorf("detail = %q", detail)
	}
}

func TestSubmitBookValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")

	tests := []struct {
		name   string
		fields map[string]string
		want   int
	}{
		{"missing title", map[string]string{"format": "txt"}, http.StatusUnprocessableEntity},
		{"overlong title", map[string]string{"title": strings.Repeat("x", 256), "format": "txt"}, http.StatusUnprocessableEntity},
		{"bad format", map[string]string{"title": "T", "format": "docx"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartUpload(t, tt.fields, "book.txt", 10)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/books", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			ts.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("code = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSubmitBookTooLarge(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")

	body, contentType := multipartUpload(t, map[string]string{
		"title": "T", "format": "txt",
	}, "book.txt", maxUploadBytes+1)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/books", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload = %d, want 413", w.Code)
	}
}

func TestListBooksOwnershipAndOrder(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bob := ts.registerAndLogin(t, "bob", "bob@x.io", "Passw0rd!")

	ts.uploadBook(t, alice, "First")
	ts.uploadBook(t, alice, "Second")
	ts.uploadBook(t, bob, "Bobs")

	w := ts.do(t, http.MethodGet, "/api/v1/books", alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	body := decodeJSON(t, w)
	books := body["books"].([]any)
	if len(books) != 2 {
		t.Fatalf("alice sees %d books, want 2", len(books))
	}
	if total := body["total"].(float64); total != 2 {
		t.Errorf("total = %v, want 2", total)
	}
	for _, raw := range books {
		b := raw.(map[string]any)
		if b["title"] == "Bobs" {
			t.Error("alice can see bob's book")
		}
	}
}

func TestCrossUserStatusIs404(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bob := ts.registerAndLogin(t, "bob", "bob@x.io", "Passw0rd!")

	bookID := ts.uploadBook(t, alice, "T")

	// Bob's view of alice's book is indistinguishable from a missing id.
	w := ts.do(t, http.MethodGet, "/api/v1/books/"+bookID+"/status", bob, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("cross-user status = %d, want 404", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/api/v1/books/00000000-0000-0000-0000-00000000beef/status", bob, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing book status = %d, want 404", w.Code)
	}
}

func TestBookStatusUsesRegistryCountWhenCompleted(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, token, "T")

	if err := ts.store.ReplaceChunks(bookID, []store.ChunkRecord{
		{Seq: 0, DurationS: 3.14, FilePath: "/x/0.ogg", FileSize: 10},
		{Seq: 1, DurationS: 1.0, FilePath: "/x/1.ogg", FileSize: 5},
	}); err != nil {
		t.Fatal(err)
	}
	percent := 100.0
	if err := ts.store.UpdateBookStatus(bookID, store.StatusCompleted, &percent, nil, nil); err != nil {
		t.Fatal(err)
	}

	w := ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/books/%s/status", bookID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeJSON(t, w)
	if body["status"] != "completed" || body["total_chunks"].(float64) != 2 {
		t.Errorf("status body = %v", body)
	}
}

func TestDeleteBookIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	token := ts.registerAndLogin(t, "alice", "alice@x.io", "Passw0rd!")
	bookID := ts.uploadBook(t, token, "T")

	w := ts.do(t, http.MethodDelete, "/api/v1/books/"+bookID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d: %s", w.Code, w.Body.String())
	}

	// Cleanup queued for the transcoder's tree.
	// The extract task from submission is still in its own queue.
	var task broker.Task
	if err := ts.broker.Pop(context.Background(), broker.CleanupQueue, time.Second, &task); err != nil {
		t.Fatalf("no cleanup task: %v", err)
	}
	if task.BookID != bookID {
		t.Errorf("cleanup task = %+v", task)
	}

	// Subsequent operations see a missing book.
	w = ts.do(t, http.MethodGet, "/api/v1/books/"+bookID+"/status", token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/api/v1/books/"+bookID, token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}
