package broker

import (
	"time"
)

// Task is the envelope placed on a stage's input queue.
type Task struct {
	BookID string `json:"book_id"`

	// FilePath is set on extract tasks (the uploaded source file).
	FilePath string `json:"file_path,omitempty"`

	// UserID rides along for downstream cleanup.
	UserID string `json:"user_id,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ChunkInfo describes one transcoded chunk inside a completion envelope.
type ChunkInfo struct {
	Seq       int     `json:"seq"`
	DurationS float64 `json:"duration_s"`
	FilePath  string  `json:"file_path"`
	FileSize  int64   `json:"file_size"`
}

// Completion is the envelope a worker pushes to its *_completed queue.
// Workers always emit one, successful or not; they never raise to the
// broker.
type Completion struct {
	BookID  string `json:"book_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Transcode completions carry the chunk list for registration.
	Chunks      []ChunkInfo `json:"chunks,omitempty"`
	TotalChunks int         `json:"total_chunks,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// maxErrorLen bounds stored error messages.
const maxErrorLen = 500

// NewCompletion builds a success envelope.
func NewCompletion(bookID string) Completion {
	return Completion{BookID: bookID, Success: true, Timestamp: time.Now().UTC()}
}

// NewFailure builds a failure envelope with a truncated error message.
func NewFailure(bookID string, err error) Completion {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return Completion{BookID: bookID, Success: false, Error: msg, Timestamp: time.Now().UTC()}
}

// NewTask builds a task envelope stamped now.
func NewTask(bookID string) Task {
	return Task{BookID: bookID, Timestamp: time.Now().UTC()}
}
