package llm

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"
)

// HeuristicVerifier is an offline implementation of Verifier built on token
// matching. It keeps the verify surface usable without an API key; quality
// is below a real model, so deployments that care should configure Gemini.
type HeuristicVerifier struct{}

func NewHeuristicVerifier() *HeuristicVerifier { return &HeuristicVerifier{} }

func (h *HeuristicVerifier) VerifyBatch(_ context.Context, pairs []Pair) ([]PairVerdict, error) {
	out := make([]PairVerdict, 0, len(pairs))
	for i, p := range pairs {
		score := tokenMatchRatio(p.New.Description, p.Candidate.Description)
		v := PairVerdict{Index: i}
		switch {
		case score >= 0.8:
			v.IsSameMerchant = true
			v.Confidence = ConfidenceHigh
		case score >= 0.5:
			v.IsSameMerchant = true
			v.Confidence = ConfidenceMedium
		default:
			v.Confidence = ConfidenceLow
		}
		out = append(out, v)
	}
	return out, nil
}

// tokenMatchRatio is the fraction of tokens in the smaller description that
// have a near-equal partner (levenshtein distance <= 1) in the other.
func tokenMatchRatio(a, b string) float64 {
	at := descTokens(a)
	bt := descTokens(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}
	if len(bt) < len(at) {
		at, bt = bt, at
	}
	matched := 0
	for _, t := range at {
		for _, u := range bt {
			if t == u || levenshtein.ComputeDistance(t, u) <= 1 {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(at))
}

func descTokens(s string) []string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/' || r == '*' || r == '#'
	})
	out := parts[:0]
	for _, p := range parts {
		if len(p) >= 3 {
			out = append(out, p)
		}
	}
	return out
}
