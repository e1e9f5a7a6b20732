package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jask/moneyvault/internal/blobstore"
	"github.com/jask/moneyvault/internal/llm"
)

type stubVerifier struct {
	verdicts []llm.PairVerdict
	err      error
}

func (s *stubVerifier) VerifyBatch(context.Context, []llm.Pair) ([]llm.PairVerdict, error) {
	return s.verdicts, s.err
}

func newTestRouter(t *testing.T, verifier llm.Verifier) *gin.Engine {
	t.Helper()
	meta, err := OpenMeta(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	blobs, err := blobstore.NewFS(t.TempDir())
	require.NoError(t, err)

	return New(meta, blobs, verifier, HeaderSession{}, zerolog.Nop()).Router()
}

func do(r *gin.Engine, method, path, user string, headers map[string]string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBlobLifecycle(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, nil)

	// nothing saved yet
	w := do(r, http.MethodGet, "/db/download", "alice", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// init registers version 0 and returns the schema template
	w = do(r, http.MethodPost, "/db/init", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "0", w.Header().Get(HeaderDatabaseVersion))
	require.NotEmpty(t, w.Body.Bytes())

	// init is repeatable until a save lands
	w = do(r, http.MethodPost, "/db/init", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// first save: expected 0 -> version 1
	blob := []byte("encrypted-image-v1")
	w = do(r, http.MethodPost, "/db/upload", "alice", map[string]string{HeaderExpectedVersion: "0"}, blob)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Version int64 `json:"version"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp.Version)

	// download returns the stored bytes plus the version header
	w = do(r, http.MethodGet, "/db/download", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1", w.Header().Get(HeaderDatabaseVersion))
	require.Equal(t, blob, w.Body.Bytes())

	// init is now closed off
	w = do(r, http.MethodPost, "/db/init", "alice", nil, nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestUploadVersionConflict(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, nil)

	do(r, http.MethodPost, "/db/init", "bob", nil, nil)
	w := do(r, http.MethodPost, "/db/upload", "bob", map[string]string{HeaderExpectedVersion: "0"}, []byte("v1"))
	require.Equal(t, http.StatusOK, w.Code)

	// a second writer still expecting 0 loses the race
	w = do(r, http.MethodPost, "/db/upload", "bob", map[string]string{HeaderExpectedVersion: "0"}, []byte("v1-other"))
	require.Equal(t, http.StatusConflict, w.Code)
	var conflict struct {
		Error         string `json:"error"`
		ServerVersion int64  `json:"serverVersion"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conflict))
	require.EqualValues(t, 1, conflict.ServerVersion)

	// the loser's blob never replaced the winner's
	dl := do(r, http.MethodGet, "/db/download", "bob", nil, nil)
	require.Equal(t, []byte("v1"), dl.Body.Bytes())

	// correct expectation proceeds
	w = do(r, http.MethodPost, "/db/upload", "bob", map[string]string{HeaderExpectedVersion: "1"}, []byte("v2"))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestUploadValidation(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, nil)

	// never initialized
	w := do(r, http.MethodPost, "/db/upload", "carol", map[string]string{HeaderExpectedVersion: "0"}, []byte("x"))
	require.Equal(t, http.StatusNotFound, w.Code)

	do(r, http.MethodPost, "/db/init", "carol", nil, nil)

	w = do(r, http.MethodPost, "/db/upload", "carol", nil, []byte("x"))
	require.Equal(t, http.StatusBadRequest, w.Code, "expected-version header is mandatory")

	w = do(r, http.MethodPost, "/db/upload", "carol", map[string]string{HeaderExpectedVersion: "0"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code, "empty body rejected")

	w = do(r, http.MethodPost, "/db/upload", "", map[string]string{HeaderExpectedVersion: "0"}, []byte("x"))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	t.Parallel()

	pairs := make([]llm.Pair, 2)
	body, err := json.Marshal(llm.VerifyRequest{UncertainPairs: pairs})
	require.NoError(t, err)

	// no verifier configured
	r := newTestRouter(t, nil)
	w := do(r, http.MethodPost, "/dedup/verify", "alice", nil, body)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	sv := &stubVerifier{verdicts: []llm.PairVerdict{
		{Index: 0, IsSameMerchant: true, Confidence: llm.ConfidenceHigh},
		{Index: 1, IsSameMerchant: false, Confidence: llm.ConfidenceLow},
	}}
	r = newTestRouter(t, sv)

	w = do(r, http.MethodPost, "/dedup/verify", "alice", nil, []byte("{not json"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	over := make([]llm.Pair, llm.MaxBatchPairs+1)
	overBody, err := json.Marshal(llm.VerifyRequest{UncertainPairs: over})
	require.NoError(t, err)
	w = do(r, http.MethodPost, "/dedup/verify", "alice", nil, overBody)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/dedup/verify", "alice", nil, body)
	require.Equal(t, http.StatusOK, w.Code)
	var resp llm.VerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 1)
	require.Len(t, resp.NonMatches, 1)
	require.Equal(t, 2, resp.Stats.TotalPairs)
	require.Equal(t, 1, resp.Stats.MatchesFound)
}

func TestMetaCheckAndIncrementRollsBackOnPutFailure(t *testing.T) {
	t.Parallel()

	meta, err := OpenMeta(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	_, err = meta.InitUser("dave")
	require.NoError(t, err)

	_, err = meta.CheckAndIncrement("dave", 0, func() error {
		return context.DeadlineExceeded
	})
	require.Error(t, err)

	v, exists, err := meta.Version("dave")
	require.NoError(t, err)
	require.True(t, exists)
	require.EqualValues(t, 0, v, "failed blob write must not advance the version")

	got, err := meta.CheckAndIncrement("dave", 0, func() error { return nil })
	require.NoError(t, err)
	require.EqualValues(t, 1, got)
}
