package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Sync protocol headers, mirrored by the server.
const (
	headerDatabaseVersion = "X-Database-Version"
	headerExpectedVersion = "X-Expected-Version"
)

// BlobClient speaks the blob sync protocol: download, init, upload with
// optimistic versioning. It knows nothing about encryption; bodies are
// opaque bytes.
type BlobClient struct {
	baseURL string
	userID  string
	http    *http.Client
}

func NewBlobClient(baseURL, userID string) *BlobClient {
	return &BlobClient{
		baseURL: baseURL,
		userID:  userID,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *BlobClient) do(ctx context.Context, method, path string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-User-ID", c.userID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	return resp, nil
}

// Download fetches the current encrypted blob and its version. ErrNoBlob
// when the user has no saved database yet.
func (c *BlobClient) Download(ctx context.Context) ([]byte, int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/db/download", nil, nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, 0, ErrNoBlob
	default:
		return nil, 0, fmt.Errorf("syncer: download: unexpected status %d", resp.StatusCode)
	}
	version, err := strconv.ParseInt(resp.Header.Get(headerDatabaseVersion), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("syncer: download: bad %s header: %w", headerDatabaseVersion, err)
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &NetworkError{Op: "download body", Err: err}
	}
	return blob, version, nil
}

// Init registers this user at version 0 and returns the server's empty
// database template. BootstrapRaceError when another session already
// completed its first save.
func (c *BlobClient) Init(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, "/db/init", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		var body struct {
			ServerVersion int64 `json:"serverVersion"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, &BootstrapRaceError{Server: body.ServerVersion}
	default:
		return nil, fmt.Errorf("syncer: init: unexpected status %d", resp.StatusCode)
	}
	template, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "init body", Err: err}
	}
	return template, nil
}

// Upload submits a sealed blob conditioned on the expected server version
// and returns the new version on success.
func (c *BlobClient) Upload(ctx context.Context, blob []byte, expected int64) (int64, error) {
	headers := map[string]string{headerExpectedVersion: strconv.FormatInt(expected, 10)}
	resp, err := c.do(ctx, http.MethodPost, "/db/upload", blob, headers)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body struct {
			Version int64 `json:"version"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return 0, fmt.Errorf("syncer: upload: decode response: %w", err)
		}
		return body.Version, nil
	case http.StatusConflict:
		var body struct {
			ServerVersion int64 `json:"serverVersion"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return 0, fmt.Errorf("syncer: upload conflict: decode response: %w", err)
		}
		return 0, &VersionConflictError{Expected: expected, Server: body.ServerVersion}
	default:
		return 0, fmt.Errorf("syncer: upload: unexpected status %d", resp.StatusCode)
	}
}
