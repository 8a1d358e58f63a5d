package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opusbook/opusbook/internal/broker"
	"github.com/opusbook/opusbook/internal/pipeline"
	"github.com/opusbook/opusbook/internal/store"
)

type bookResponse struct {
	BookID          string  `json:"book_id"`
	Title           string  `json:"title"`
	Format          string  `json:"format"`
	Status          string  `json:"status"`
	PercentComplete float64 `json:"percent_complete"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	TotalChunks     int     `json:"total_chunks"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func bookOf(b *store.Book) bookResponse {
	return bookResponse{
		BookID:          b.ID,
		Title:           b.Title,
		Format:          string(b.Format),
		Status:          string(b.Status),
		PercentComplete: b.PercentComplete,
		ErrorMessage:    b.ErrorMessage,
		TotalChunks:     b.TotalChunks,
		CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// handleListBooks returns the caller's books, newest first.
func (s *Server) handleListBooks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(store.DefaultPageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	books, total, err := s.store.ListBooks(currentUserID(c), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}

	out := make([]bookResponse, len(books))
	for i := range books {
		out[i] = bookOf(&books[i])
	}
	c.JSON(http.StatusOK, gin.H{"books": out, "total": total})
}

// handleSubmitBook accepts the multipart upload, writes the source file
// and starts the pipeline. The response reports the freshly created
// pending row.
func (s *Server) handleSubmitBook(c *gin.Context) {
	// Reject oversized bodies before buffering the file.
	if c.Request.ContentLength > maxUploadBytes+4096 {
		s.respondError(c, errPayloadTooLarge("File exceeds the 50 MiB limit"))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+4096)

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" || len(title) > 255 {
		s.respondError(c, errValidation("title: must be 1-255 characters"))
		return
	}
	format := strings.ToLower(c.PostForm("format"))
	if !store.ValidFormat(format) {
		s.respondError(c, errValidation("format: must be one of pdf, epub, txt"))
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(c, errPayloadTooLarge("File exceeds the 50 MiB limit"))
			return
		}
		s.respondError(c, errValidation("file: missing upload"))
		return
	}
	if file.Size > maxUploadBytes {
		s.respondError(c, errPayloadTooLarge("File exceeds the 50 MiB limit"))
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext != "."+format {
		s.respondError(c, errBadRequest(
			"File extension "+ext+" doesn't match format "+format))
		return
	}

	userID := currentUserID(c)
	book, err := s.store.CreateBook(userID, title, store.BookFormat(format), "")
	if err != nil {
		s.respondError(c, err)
		return
	}

	dst := s.paths.UploadFile(book.ID, file.Filename)
	if err := s.saveUpload(file, dst); err != nil {
		s.log.Error("failed to store upload", "book_id", book.ID, "error", err)
		_ = s.store.DeleteBook(book.ID)
		s.respondError(c, errInternal())
		return
	}

	if err := s.store.SetBookFilePath(book.ID, dst); err != nil {
		s.respondError(c, err)
		return
	}

	if err := pipeline.Submit(c.Request.Context(), s.store, s.broker, book.ID, dst, userID); err != nil {
		// Metadata is written; the pipeline starts once the broker is back.
		s.log.Error("failed to start pipeline", "book_id", book.ID, "error", err)
	}

	c.JSON(http.StatusCreated, gin.H{"book_id": book.ID, "status": string(store.StatusPending)})
}

func (s *Server) saveUpload(file *multipart.FileHeader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

// handleBookStatus returns the book row. For completed books the chunk
// registry is the source of truth for the count.
func (s *Server) handleBookStatus(c *gin.Context) {
	book, err := s.ownedBook(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := bookOf(book)
	if book.Status == store.StatusCompleted {
		if count, err := s.store.CountChunks(book.ID); err == nil {
			resp.TotalChunks = int(count)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleDeleteBook removes metadata eagerly, cleans the text and wav
// trees, and queues the transcoder's cleanup. Any in-flight stage work
// completes into an orphaned completion the orchestrator drops.
func (s *Server) handleDeleteBook(c *gin.Context) {
	book, err := s.ownedBook(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if err := s.store.DeleteBook(book.ID); err != nil {
		s.respondError(c, err)
		return
	}

	if err := s.paths.RemoveTextArtifacts(book.ID); err != nil {
		s.log.Warn("failed to remove text artifacts", "book_id", book.ID, "error", err)
	}
	if err := s.paths.RemoveWavArtifacts(book.ID); err != nil {
		s.log.Warn("failed to remove wav artifacts", "book_id", book.ID, "error", err)
	}

	task := broker.NewTask(book.ID)
	task.UserID = book.UserID
	if err := s.broker.Push(c.Request.Context(), broker.CleanupQueue, task); err != nil {
		s.log.Error("failed to enqueue cleanup", "book_id", book.ID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"detail": "Book deleted"})
}

// ownedBook loads the path's book id scoped to the caller. Someone else's
// book and a nonexistent book produce the same not-found error.
func (s *Server) ownedBook(c *gin.Context) (*store.Book, error) {
	id := c.Param("id")
	if err := store.ValidateBookID(id); err != nil {
		return nil, errNotFound("Book not found")
	}
	book, err := s.store.GetBookForUser(id, currentUserID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errNotFound("Book not found")
		}
		return nil, err
	}
	return book, nil
}
