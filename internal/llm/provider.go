// Package llm provides the semantic merchant-sameness verifier used by the
// deduplication engine's uncertain band.
package llm

import (
	"context"
	"errors"
)

// MaxBatchPairs is the hard cap on pairs per verification request.
const MaxBatchPairs = 100

// ErrUnavailable means no verifier is configured. Callers fall back to
// deterministic matching only.
var ErrUnavailable = errors.New("llm: verifier not configured")

// Confidence labels returned by a verifier.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// TransactionInput is the slice of a transaction a verifier gets to see.
type TransactionInput struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amountCents"`
	Date        string `json:"date"`
}

// Pair is one uncertain candidate pairing.
type Pair struct {
	New       TransactionInput `json:"newTransaction"`
	Candidate TransactionInput `json:"candidate"`
}

// PairVerdict is the verifier's judgement for the pair at Index.
type PairVerdict struct {
	Index          int    `json:"index"`
	IsSameMerchant bool   `json:"isSameMerchant"`
	Confidence     string `json:"confidence"` // high | medium | low
}

// Verifier judges whether two transaction descriptions denote the same
// merchant. Implementations must bound their own latency; a failed or
// timed-out call leaves state unchanged.
type Verifier interface {
	VerifyBatch(ctx context.Context, pairs []Pair) ([]PairVerdict, error)
}

// NumericConfidence maps a verdict label to the confidence recorded on the
// resulting duplicate match.
func NumericConfidence(label string) float64 {
	switch label {
	case ConfidenceHigh:
		return 0.95
	case ConfidenceMedium:
		return 0.85
	default:
		return 0
	}
}
