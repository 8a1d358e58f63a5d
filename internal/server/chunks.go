package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opusbook/opusbook/internal/signing"
	"github.com/opusbook/opusbook/internal/store"
)

// signed URL expiry bounds in seconds.
const (
	minSignedExpiry = 1
	maxSignedExpiry = 24 * 3600
	maxBatchChunks  = 20
)

type chunkInfo struct {
	Seq       int     `json:"seq"`
	DurationS float64 `json:"duration_s"`
	URL       string  `json:"url"`
	FileSize  int64   `json:"file_size,omitempty"`
}

// handleListChunks enumerates a book's chunks with relative URLs suitable
// for signed-URL generation.
func (s *Server) handleListChunks(c *gin.Context) {
	book, err := s.ownedBook(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	chunks, err := s.store.ListChunks(book.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	var totalDuration float64
	out := make([]chunkInfo, len(chunks))
	for i, ch := range chunks {
		out[i] = chunkInfo{
			Seq:       ch.Seq,
			DurationS: ch.DurationS,
			URL:       signing.ChunkPath(book.ID, ch.Seq),
			FileSize:  ch.FileSize,
		}
		totalDuration += ch.DurationS
	}

	c.JSON(http.StatusOK, gin.H{
		"book_id":          book.ID,
		"total_chunks":     len(out),
		"total_duration_s": totalDuration,
		"chunks":           out,
	})
}

type signedURLRequest struct {
	ExpiresIn int `json:"expires_in"`
}

func (s *Server) signedExpiry(requested int) time.Duration {
	if requested == 0 {
		return s.cfg.Auth().SignedURLExpiry
	}
	if requested < minSignedExpiry {
		requested = minSignedExpiry
	}
	if requested > maxSignedExpiry {
		requested = maxSignedExpiry
	}
	return time.Duration(requested) * time.Second
}

// handleSignedURL issues one time-bounded URL for a chunk the caller owns.
func (s *Server) handleSignedURL(c *gin.Context) {
	book, err := s.ownedBook(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq < 0 {
		s.respondError(c, errValidation("seq: must be a non-negative integer"))
		return
	}
	if _, err := s.store.GetChunk(book.ID, seq); err != nil {
		s.respondError(c, errNotFound("Chunk not found"))
		return
	}

	var req signedURLRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	token := bearerToken(c)
	if token == "" {
		token = c.Query("token")
	}
	expiresIn := s.signedExpiry(req.ExpiresIn)
	url := s.signer.SignedURL(s.cfg.APIBaseURL, book.ID, seq, token, expiresIn)

	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_in": int(expiresIn.Seconds()),
	})
}

type batchSignedURLRequest struct {
	Chunks    []int `json:"chunks"`
	ExpiresIn int   `json:"expires_in"`
}

// handleBatchSignedURLs issues up to 20 signed URLs in one call so clients
// can prefetch. Chunks that fail individually are skipped; an empty result
// is an internal error.
func (s *Server) handleBatchSignedURLs(c *gin.Context) {
	book, err := s.ownedBook(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req batchSignedURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errValidation("invalid request body"))
		return
	}
	if len(req.Chunks) == 0 || len(req.Chunks) > maxBatchChunks {
		s.respondError(c, errValidation(
			fmt.Sprintf("chunks: must contain between 1 and %d sequence numbers", maxBatchChunks)))
		return
	}
	for _, seq := range req.Chunks {
		if seq < 0 {
			s.respondError(c, errValidation("chunks: sequence numbers must be non-negative"))
			return
		}
	}

	token := bearerToken(c)
	if token == "" {
		token = c.Query("token")
	}
	expiresIn := s.signedExpiry(req.ExpiresIn)

	urls := make(map[string]string, len(req.Chunks))
	for _, seq := range req.Chunks {
		if _, err := s.store.GetChunk(book.ID, seq); err != nil {
			continue
		}
		urls[strconv.Itoa(seq)] = s.signer.SignedURL(s.cfg.APIBaseURL, book.ID, seq, token, expiresIn)
	}
	if len(urls) == 0 {
		s.respondError(c, errInternal())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"book_id":      book.ID,
		"signed_urls":  urls,
		"expires_in":   int(expiresIn.Seconds()),
		"total_chunks": len(urls),
	})
}

// handleGetChunk streams one Opus/Ogg chunk. Three authentication paths,
// tried in order: a complete signed URL, a bearer header, a token query
// parameter. Ownership mismatch is reported as not-found.
func (s *Server) handleGetChunk(c *gin.Context) {
	bookID := c.Param("id")
	if err := store.ValidateBookID(bookID); err != nil {
		s.respondError(c, errNotFound("Book not found"))
		return
	}
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq < 0 {
		s.respondError(c, errValidation("seq: must be a non-negative integer"))
		return
	}

	user, err := s.authenticateChunkRequest(c, bookID, seq)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if _, err := s.store.GetBookForUser(bookID, user.ID); err != nil {
		s.respondError(c, errNotFound("Book not found"))
		return
	}
	chunk, err := s.store.GetChunk(bookID, seq)
	if err != nil {
		s.respondError(c, errNotFound("Chunk not found"))
		return
	}

	fi, err := os.Stat(chunk.FilePath)
	if err != nil {
		s.log.Error("chunk file missing", "book_id", bookID, "seq", seq, "path", chunk.FilePath)
		s.respondError(c, errNotFound("Chunk not found"))
		return
	}

	etag := chunkETag(chunk.FilePath, fi.ModTime(), fi.Size())
	c.Header("ETag", etag)
	c.Header("Cache-Control", "public, max-age=3600")

	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("Content-Type", "audio/ogg")
	c.File(chunk.FilePath)
}

// authenticateChunkRequest resolves the requesting user. The presence of
// any signed-URL parameter selects the signed path, which then requires
// all of expires, signature and token.
func (s *Server) authenticateChunkRequest(c *gin.Context, bookID string, seq int) (*userIdentity, error) {
	expiresStr := c.Query("expires")
	signature := c.Query("signature")
	queryToken := c.Query("token")

	if expiresStr != "" || signature != "" {
		if expiresStr == "" || signature == "" || queryToken == "" {
			return nil, errUnauthenticated("Signed URL is missing required parameters")
		}
		expires, err := strconv.ParseInt(expiresStr, 10, 64)
		if err != nil {
			return nil, errUnauthenticated("Signed URL is missing required parameters")
		}

		path := signing.ChunkPath(bookID, seq)
		if err := s.signer.Verify(path, expires, queryToken, signature); err != nil {
			switch {
			case errors.Is(err, signing.ErrExpired):
				return nil, errUnauthenticated("Signed URL has expired")
			case errors.Is(err, signing.ErrBadSignature):
				return nil, errUnauthenticated("Invalid signature")
			default:
				return nil, errUnauthenticated("")
			}
		}
		return s.userFromSession(queryToken)
	}

	if token := bearerToken(c); token != "" {
		return s.userFromSession(token)
	}
	if queryToken != "" {
		return s.userFromSession(queryToken)
	}
	return nil, errUnauthenticated("Not authenticated")
}

// chunkETag derives a strong validator from the file identity.
func chunkETag(path string, mtime time.Time, size int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", path, mtime.UnixNano(), size)))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
