// Package dedup classifies externally-sourced transactions against the
// user's existing set before they are inserted, so re-imports and
// overlapping aggregator pulls never create duplicate rows.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jask/moneyvault/internal/llm"
)

// Match tiers.
const (
	TierDeterministic = "deterministic"
	TierLLM           = "llm"
)

// Transaction is the minimal shape the engine compares on.
type Transaction struct {
	ID          string
	ExternalID  string
	Description string
	AmountCents int64
	Date        time.Time
	PostedDate  *time.Time
}

// Match pairs an incoming transaction with the existing one it duplicates.
type Match struct {
	Transaction Transaction
	MatchedWith Transaction
	Confidence  float64
	MatchTier   string
}

// Result is the outcome of one FindDuplicates run. VerifierFallback is set
// when the uncertain band was resolved without Tier 2 (verifier absent or
// failed); callers that care about quality should surface it.
type Result struct {
	Unique           []Transaction
	Duplicates       []Match
	VerifierFallback bool
}

// Config carries the Tier-1 tunables. Defaults follow the documented
// thresholds; they are exported so property tests can pin them down.
type Config struct {
	// ScoreDuplicate is the combined-similarity floor for an automatic
	// Tier-1 duplicate (date and amount already matched).
	ScoreDuplicate float64
	// ScoreUncertain is the floor of the uncertain band sent to Tier 2.
	ScoreUncertain float64
	// DateSkewDays absorbs authorized-vs-posted date drift.
	DateSkewDays int
	// MaxVerifyPairs caps one Tier-2 batch.
	MaxVerifyPairs int
}

func DefaultConfig() Config {
	return Config{
		ScoreDuplicate: 0.90,
		ScoreUncertain: 0.65,
		DateSkewDays:   3,
		MaxVerifyPairs: llm.MaxBatchPairs,
	}
}

// Engine runs the two-tier matching strategy.
type Engine struct {
	cfg      Config
	verifier llm.Verifier
	log      zerolog.Logger
}

// NewEngine builds an engine. verifier may be nil; the engine then reports
// Tier-1-only results with VerifierFallback set.
func NewEngine(cfg Config, verifier llm.Verifier, log zerolog.Logger) *Engine {
	if cfg.MaxVerifyPairs <= 0 || cfg.MaxVerifyPairs > llm.MaxBatchPairs {
		cfg.MaxVerifyPairs = llm.MaxBatchPairs
	}
	return &Engine{cfg: cfg, verifier: verifier, log: log}
}

type uncertainPair struct {
	newIdx   int
	existing Transaction
	score    float64
}

// FindDuplicates partitions incoming transactions into unique rows and
// duplicates of existing ones. Batch order is preserved and each incoming
// transaction matches at most one existing transaction (first match wins).
func (e *Engine) FindDuplicates(ctx context.Context, incoming, existing []Transaction) (Result, error) {
	res := Result{}
	byExternalID := make(map[string]Transaction, len(existing))
	for _, t := range existing {
		if t.ExternalID != "" {
			byExternalID[t.ExternalID] = t
		}
	}

	consumed := make(map[string]bool, len(existing))
	resolved := make([]string, len(incoming)) // "", "dup", "unique", "uncertain"
	matches := make([]Match, len(incoming))
	var uncertain []uncertainPair

	for i, tx := range incoming {
		// certain duplicate: same external source id
		if tx.ExternalID != "" {
			if prior, ok := byExternalID[tx.ExternalID]; ok && !consumed[prior.ID] {
				consumed[prior.ID] = true
				resolved[i] = "dup"
				matches[i] = Match{Transaction: tx, MatchedWith: prior, Confidence: 1, MatchTier: TierDeterministic}
				continue
			}
		}

		best, bestScore := Transaction{}, 0.0
		for _, prior := range existing {
			if consumed[prior.ID] {
				continue
			}
			if tx.AmountCents != prior.AmountCents {
				continue
			}
			if !e.datesWithinSkew(tx, prior) {
				continue
			}
			// cheap reject of wildly different descriptors
			if levenshteinRatio(tx.Description, prior.Description) >= 0.95 {
				continue
			}
			if score := CombinedScore(tx.Description, prior.Description); score > bestScore {
				best, bestScore = prior, score
			}
		}

		switch {
		case bestScore >= e.cfg.ScoreDuplicate:
			consumed[best.ID] = true
			resolved[i] = "dup"
			matches[i] = Match{Transaction: tx, MatchedWith: best, Confidence: bestScore, MatchTier: TierDeterministic}
		case bestScore >= e.cfg.ScoreUncertain:
			resolved[i] = "uncertain"
			uncertain = append(uncertain, uncertainPair{newIdx: i, existing: best, score: bestScore})
		default:
			resolved[i] = "unique"
		}
	}

	if len(uncertain) > 0 {
		fallback, err := e.verifyUncertain(ctx, incoming, uncertain, consumed, resolved, matches)
		if err != nil {
			return Result{}, err
		}
		res.VerifierFallback = fallback
	}

	for i, tx := range incoming {
		switch resolved[i] {
		case "dup":
			res.Duplicates = append(res.Duplicates, matches[i])
		default:
			res.Unique = append(res.Unique, tx)
		}
	}
	return res, nil
}

// verifyUncertain runs Tier 2 over the uncertain band in capped batches.
// Any verifier failure downgrades to Tier-1-only results; the fallback is
// reported, never silent.
func (e *Engine) verifyUncertain(ctx context.Context, incoming []Transaction, uncertain []uncertainPair, consumed map[string]bool, resolved []string, matches []Match) (fallback bool, err error) {
	if e.verifier == nil {
		e.log.Warn().Int("pairs", len(uncertain)).Msg("dedup: no verifier configured, resolving uncertain band as unique")
		return true, nil
	}

	for start := 0; start < len(uncertain); start += e.cfg.MaxVerifyPairs {
		end := start + e.cfg.MaxVerifyPairs
		if end > len(uncertain) {
			end = len(uncertain)
		}
		batch := uncertain[start:end]

		pairs := make([]llm.Pair, len(batch))
		for j, u := range batch {
			tx := incoming[u.newIdx]
			pairs[j] = llm.Pair{
				New:       llm.TransactionInput{Description: tx.Description, AmountCents: tx.AmountCents, Date: tx.Date.Format("2006-01-02")},
				Candidate: llm.TransactionInput{Description: u.existing.Description, AmountCents: u.existing.AmountCents, Date: u.existing.Date.Format("2006-01-02")},
			}
		}

		verdicts, verr := e.verifier.VerifyBatch(ctx, pairs)
		if verr != nil {
			e.log.Warn().Err(verr).Int("pairs", len(batch)).Msg("dedup: verifier failed, falling back to tier-1 results")
			return true, nil
		}
		for _, v := range verdicts {
			if v.Index < 0 || v.Index >= len(batch) {
				return false, fmt.Errorf("dedup: verdict index %d out of range", v.Index)
			}
			u := batch[v.Index]
			if !v.IsSameMerchant || v.Confidence == llm.ConfidenceLow {
				continue
			}
			if consumed[u.existing.ID] || resolved[u.newIdx] == "dup" {
				continue
			}
			consumed[u.existing.ID] = true
			resolved[u.newIdx] = "dup"
			matches[u.newIdx] = Match{
				Transaction: incoming[u.newIdx],
				MatchedWith: u.existing,
				Confidence:  llm.NumericConfidence(v.Confidence),
				MatchTier:   TierLLM,
			}
		}
	}
	return false, nil
}

// datesWithinSkew accepts a pair when any combination of transaction and
// posted dates lands inside the skew window.
func (e *Engine) datesWithinSkew(a, b Transaction) bool {
	if daysApart(a.Date, b.Date) <= e.cfg.DateSkewDays {
		return true
	}
	if a.PostedDate != nil && daysApart(*a.PostedDate, b.Date) <= e.cfg.DateSkewDays {
		return true
	}
	if b.PostedDate != nil && daysApart(a.Date, *b.PostedDate) <= e.cfg.DateSkewDays {
		return true
	}
	return false
}

func daysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
