// Package server exposes the sync HTTP surface: encrypted blob
// download/init/upload with optimistic versioning, and the stateless
// dedup verification proxy. The server never sees a decryption key; blob
// bodies are opaque bytes.
package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jask/moneyvault/internal/blobstore"
	"github.com/jask/moneyvault/internal/llm"
	"github.com/jask/moneyvault/internal/localdb"
)

// maxBlobBytes bounds one uploaded database image.
const maxBlobBytes = 64 << 20

// Version headers shared with the client.
const (
	HeaderDatabaseVersion = "X-Database-Version"
	HeaderExpectedVersion = "X-Expected-Version"
)

// SessionProvider resolves the authenticated user for a request. Real
// deployments plug in their auth layer; HeaderSession is the dev default.
type SessionProvider interface {
	UserID(r *http.Request) (string, error)
}

// HeaderSession trusts an X-User-ID header. Development and tests only.
type HeaderSession struct{}

func (HeaderSession) UserID(r *http.Request) (string, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return "", errors.New("server: missing X-User-ID header")
	}
	return id, nil
}

// Server wires the meta store, blob store and optional verifier behind
// the HTTP routes.
type Server struct {
	meta     *MetaStore
	blobs    blobstore.Store
	verifier llm.Verifier
	session  SessionProvider
	log      zerolog.Logger

	bootstrapOnce sync.Once
	bootstrapBlob []byte
	bootstrapErr  error
}

// New builds a Server. verifier may be nil; /dedup/verify then answers 503
// and clients fall back to deterministic matching.
func New(meta *MetaStore, blobs blobstore.Store, verifier llm.Verifier, session SessionProvider, log zerolog.Logger) *Server {
	return &Server{meta: meta, blobs: blobs, verifier: verifier, session: session, log: log}
}

// Router assembles the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.GET("/db/download", s.handleDownload)
	r.POST("/db/init", s.handleInit)
	r.POST("/db/upload", s.handleUpload)
	r.POST("/dedup/verify", s.handleVerify)
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) userID(c *gin.Context) (string, bool) {
	id, err := s.session.UserID(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return id, true
}

func (s *Server) handleDownload(c *gin.Context) {
	uid, ok := s.userID(c)
	if !ok {
		return
	}
	version, exists, err := s.meta.Version(uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metadata lookup failed"})
		return
	}
	if !exists || version == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "database not found"})
		return
	}
	blob, err := s.blobs.Get(c.Request.Context(), blobstore.UserKey(uid))
	if errors.Is(err, blobstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "database not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "blob read failed"})
		return
	}
	c.Header(HeaderDatabaseVersion, strconv.FormatInt(version, 10))
	c.Data(http.StatusOK, "application/octet-stream", blob)
}

// handleInit registers the user at version 0 and hands back the empty
// database template. Init stays repeatable while no blob has been saved
// yet (version 0); once a save landed it answers 409 so a stale client
// cannot restart the bootstrap.
func (s *Server) handleInit(c *gin.Context) {
	uid, ok := s.userID(c)
	if !ok {
		return
	}
	version, err := s.meta.InitUser(uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "init failed"})
		return
	}
	if version > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "already initialized", "serverVersion": version})
		return
	}
	template, err := s.bootstrapTemplate()
	if err != nil {
		s.log.Error().Err(err).Msg("bootstrap template")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "init failed"})
		return
	}
	c.Header(HeaderDatabaseVersion, "0")
	c.Data(http.StatusOK, "application/octet-stream", template)
}

// bootstrapTemplate builds the empty schema image once and caches it; it
// is identical for every user.
func (s *Server) bootstrapTemplate() ([]byte, error) {
	s.bootstrapOnce.Do(func() {
		db, err := localdb.New()
		if err != nil {
			s.bootstrapErr = err
			return
		}
		defer db.Close()
		s.bootstrapBlob, s.bootstrapErr = db.Export()
	})
	return s.bootstrapBlob, s.bootstrapErr
}

func (s *Server) handleUpload(c *gin.Context) {
	uid, ok := s.userID(c)
	if !ok {
		return
	}
	expected, err := strconv.ParseInt(c.GetHeader(HeaderExpectedVersion), 10, 64)
	if err != nil || expected < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid " + HeaderExpectedVersion})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBlobBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return
	}
	if len(body) > maxBlobBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "blob too large"})
		return
	}

	newVersion, err := s.meta.CheckAndIncrement(uid, expected, func() error {
		return s.blobs.Put(c.Request.Context(), blobstore.UserKey(uid), body)
	})
	var conflict *VersionConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "version conflict", "serverVersion": conflict.Server})
		return
	case errors.Is(err, ErrNotInitialized):
		c.JSON(http.StatusNotFound, gin.H{"error": "database not initialized"})
		return
	case err != nil:
		s.log.Error().Err(err).Str("user", uid).Msg("upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	s.log.Info().Str("user", uid).Int64("version", newVersion).Int("bytes", len(body)).Msg("blob saved")
	c.JSON(http.StatusOK, gin.H{"version": newVersion})
}

// handleVerify proxies the uncertain-band pairs to the configured model
// so clients never hold model credentials. Pure compute, no state.
func (s *Server) handleVerify(c *gin.Context) {
	uid, ok := s.userID(c)
	if !ok {
		return
	}
	if s.verifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verifier not configured"})
		return
	}
	var req llm.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}
	if len(req.UncertainPairs) > llm.MaxBatchPairs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many pairs"})
		return
	}

	start := time.Now()
	verdicts, err := s.verifier.VerifyBatch(c.Request.Context(), req.UncertainPairs)
	if errors.Is(err, llm.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "verifier not configured"})
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("user", uid).Msg("verification failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "verification failed"})
		return
	}

	resp := llm.VerifyResponse{Matches: []llm.PairVerdict{}, NonMatches: []llm.PairVerdict{}}
	for _, v := range verdicts {
		if v.IsSameMerchant {
			resp.Matches = append(resp.Matches, v)
			continue
		}
		resp.NonMatches = append(resp.NonMatches, v)
	}
	resp.Stats = llm.VerifyStats{
		TotalPairs:       len(req.UncertainPairs),
		MatchesFound:     len(resp.Matches),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	c.JSON(http.StatusOK, resp)
}
