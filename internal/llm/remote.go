package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// Wire types for the POST /dedup/verify surface. The server and the remote
// client share them so the contract lives in one place.
type VerifyRequest struct {
	UncertainPairs []Pair `json:"uncertainPairs"`
}

type VerifyStats struct {
	TotalPairs       int   `json:"totalPairs"`
	MatchesFound     int   `json:"matchesFound"`
	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

type VerifyResponse struct {
	Matches    []PairVerdict `json:"matches"`
	NonMatches []PairVerdict `json:"nonMatches"`
	Stats      VerifyStats   `json:"stats"`
}

// RemoteVerifier delegates verification to the server's compute proxy, so
// clients never hold model credentials.
type RemoteVerifier struct {
	baseURL   string
	userID    string
	authToken string
	http      *http.Client
}

func NewRemoteVerifier(baseURL, userID, authToken string) *RemoteVerifier {
	return &RemoteVerifier{baseURL: baseURL, userID: userID, authToken: authToken, http: http.DefaultClient}
}

func (r *RemoteVerifier) VerifyBatch(ctx context.Context, pairs []Pair) ([]PairVerdict, error) {
	if len(pairs) > MaxBatchPairs {
		return nil, fmt.Errorf("llm: batch of %d exceeds cap of %d", len(pairs), MaxBatchPairs)
	}
	body, err := json.Marshal(VerifyRequest{UncertainPairs: pairs})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/dedup/verify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.userID != "" {
		req.Header.Set("X-User-ID", r.userID)
	}
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: verify request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("llm: verify: unexpected status %d", resp.StatusCode)
	}

	var out VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	verdicts := append(out.Matches, out.NonMatches...)
	sort.Slice(verdicts, func(i, j int) bool { return verdicts[i].Index < verdicts[j].Index })
	return verdicts, nil
}
