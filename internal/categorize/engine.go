package categorize

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jask/moneyvault/internal/localdb"
)

// Confidence levels attached to a suggestion.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceNone   = "none"
)

// minPatternLength guards Learn against degenerate patterns ("A", "*")
// that would retro-tag half the ledger.
const minPatternLength = 3

// Rule maps a merchant pattern to a category.
type Rule struct {
	ID         string
	Pattern    string
	CategoryID string
	IsPreset   bool
}

// Suggestion is the outcome of categorizing one description.
type Suggestion struct {
	CategoryID string
	Confidence string
	RuleID     string
}

// Categorize matches a description against the rule set in three tiers:
// exact pattern match, pattern-is-prefix, pattern-contained-anywhere.
// Each tier scans the full rule set before the next is tried, so an
// exact match always beats a longer rule that merely contains the text.
// Within the contains tier the longest pattern wins.
func Categorize(description string, rules []Rule) Suggestion {
	needle := strings.ToUpper(strings.TrimSpace(description))
	if needle == "" {
		return Suggestion{Confidence: ConfidenceNone}
	}
	extracted := ExtractMerchantPattern(needle)

	for _, r := range rules {
		p := strings.ToUpper(r.Pattern)
		if p == needle || p == extracted {
			return Suggestion{CategoryID: r.CategoryID, Confidence: ConfidenceHigh, RuleID: r.ID}
		}
	}
	for _, r := range rules {
		p := strings.ToUpper(r.Pattern)
		if strings.HasPrefix(needle, p) || strings.HasPrefix(extracted, p) {
			return Suggestion{CategoryID: r.CategoryID, Confidence: ConfidenceHigh, RuleID: r.ID}
		}
	}
	var best *Rule
	for i, r := range rules {
		p := strings.ToUpper(r.Pattern)
		if !strings.Contains(needle, p) {
			continue
		}
		if best == nil || len(p) > len(best.Pattern) {
			best = &rules[i]
		}
	}
	if best != nil {
		return Suggestion{CategoryID: best.CategoryID, Confidence: ConfidenceMedium, RuleID: best.ID}
	}
	return Suggestion{Confidence: ConfidenceNone}
}

// Engine persists rules and applies them retroactively when the user
// confirms a category.
type Engine struct {
	db  localdb.Adapter
	log zerolog.Logger
}

func NewEngine(db localdb.Adapter, log zerolog.Logger) *Engine {
	return &Engine{db: db, log: log}
}

// Rules loads every categorization rule, user rules before presets so
// user overrides win ties in the contains tier.
func (e *Engine) Rules() ([]Rule, error) {
	rows, err := e.db.All(`
		SELECT id, pattern, category_id, is_preset
		FROM categorization_rules
		ORDER BY is_preset ASC, length(pattern) DESC`)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	rules := make([]Rule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, Rule{
			ID:         r["id"].(string),
			Pattern:    r["pattern"].(string),
			CategoryID: r["category_id"].(string),
			IsPreset:   asInt64(r["is_preset"]) != 0,
		})
	}
	return rules, nil
}

// Suggest categorizes one description against the stored rule set.
func (e *Engine) Suggest(description string) (Suggestion, error) {
	rules, err := e.Rules()
	if err != nil {
		return Suggestion{}, err
	}
	return Categorize(description, rules), nil
}

// Learn records the confirmed (description, category) pairing as a rule
// and retroactively tags unconfirmed transactions matching the same
// merchant pattern. Returns the number of other transactions updated.
//
// A pattern shorter than minPatternLength is silently discarded: the
// confirmation itself still stands, no rule is written.
func (e *Engine) Learn(confirmedTxID, description, categoryID string) (int, error) {
	pattern := ExtractMerchantPattern(description)
	if len(pattern) < minPatternLength {
		e.log.Debug().Str("pattern", pattern).Msg("categorize: pattern too short, skipping rule")
		return 0, nil
	}

	var affected int
	err := localdb.WithTx(e.db, func(tx localdb.Adapter) error {
		// most recent confirmation wins for an existing pattern
		if err := tx.Run(`
			INSERT INTO categorization_rules (id, pattern, category_id, is_preset)
			VALUES (?, ?, ?, 0)
			ON CONFLICT(pattern) DO UPDATE SET category_id = excluded.category_id`,
			uuid.NewString(), pattern, categoryID); err != nil {
			return fmt.Errorf("upsert rule: %w", err)
		}

		if err := tx.Run(`
			UPDATE transactions
			SET category_id = ?
			WHERE is_confirmed = 0
			  AND excluded = 0
			  AND id != ?
			  AND UPPER(description) LIKE '%' || ? || '%'`,
			categoryID, confirmedTxID, pattern); err != nil {
			return fmt.Errorf("retro-tag: %w", err)
		}
		row, err := tx.Get(`SELECT changes() AS n`)
		if err != nil {
			return err
		}
		affected = int(asInt64(row["n"]))
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Info().Str("pattern", pattern).Int("retagged", affected).Msg("categorize: learned rule")
	return affected, nil
}

// Confirm marks a transaction's category as user-verified and learns
// from it.
func (e *Engine) Confirm(txID, categoryID string) (int, error) {
	row, err := e.db.Get(`SELECT description FROM transactions WHERE id = ?`, txID)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, fmt.Errorf("confirm: transaction %s not found", txID)
	}
	if err := e.db.Run(`
		UPDATE transactions SET category_id = ?, is_confirmed = 1 WHERE id = ?`,
		categoryID, txID); err != nil {
		return 0, err
	}
	return e.Learn(txID, row["description"].(string), categoryID)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}
