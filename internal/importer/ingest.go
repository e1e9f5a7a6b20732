// Package importer feeds externally-sourced transactions into the local
// database: aggregator pulls and CSV exports both pass through the
// deduplication engine before anything is inserted.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jask/moneyvault/internal/categorize"
	"github.com/jask/moneyvault/internal/dedup"
	"github.com/jask/moneyvault/internal/localdb"
)

const dateLayout = "2006-01-02"

// ExternalTransaction is one transaction as delivered by an external
// source, before it has a local identity.
type ExternalTransaction struct {
	ExternalID  string
	Description string
	AmountCents int64
	Date        time.Time
	PostedDate  *time.Time
	Source      string
}

// IngestResult accumulates per-row outcomes; a bad CSV line never aborts
// the rest of the file.
type IngestResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// Importer runs ingest against one open database. notify is invoked after
// any write so the sync controller can schedule a save; it may be nil.
type Importer struct {
	db     localdb.Adapter
	dedup  *dedup.Engine
	cat    *categorize.Engine
	notify func()
	log    zerolog.Logger
}

func New(db localdb.Adapter, dd *dedup.Engine, cat *categorize.Engine, notify func(), log zerolog.Logger) *Importer {
	return &Importer{db: db, dedup: dd, cat: cat, notify: notify, log: log}
}

// EnsureAccount returns the id for the named account, creating it if
// needed. Ids are derived from the name so repeated imports of the same
// source land on the same account.
func (im *Importer) EnsureAccount(name, accountType string) (string, error) {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("account:"+name)).String()
	if err := im.db.Run(`
		INSERT INTO accounts (id, name, account_type) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, id, name, accountType); err != nil {
		return "", fmt.Errorf("importer: ensure account: %w", err)
	}
	return id, nil
}

// ImportExternal deduplicates incoming transactions against the full
// existing set and inserts the unique ones, auto-categorized against the
// stored rules. itemID/cursor persist the source's sync position; pass
// empty strings for cursor-less sources.
func (im *Importer) ImportExternal(ctx context.Context, accountID string, txs []ExternalTransaction, itemID, cursor string) (IngestResult, error) {
	var result IngestResult
	if len(txs) == 0 {
		return result, nil
	}

	existing, err := im.loadExisting()
	if err != nil {
		return result, err
	}

	incoming := make([]dedup.Transaction, len(txs))
	bySyntheticID := make(map[string]ExternalTransaction, len(txs))
	for i, t := range txs {
		id := uuid.NewString()
		incoming[i] = dedup.Transaction{
			ID:          id,
			ExternalID:  t.ExternalID,
			Description: t.Description,
			AmountCents: t.AmountCents,
			Date:        t.Date,
			PostedDate:  t.PostedDate,
		}
		bySyntheticID[id] = t
	}

	verdict, err := im.dedup.FindDuplicates(ctx, incoming, existing)
	if err != nil {
		return result, err
	}
	if verdict.VerifierFallback {
		im.log.Warn().Msg("import: dedup ran without semantic verification")
	}
	result.Skipped = len(verdict.Duplicates)

	var rules []categorize.Rule
	if im.cat != nil {
		if rules, err = im.cat.Rules(); err != nil {
			return result, err
		}
	}

	err = localdb.WithTx(im.db, func(tx localdb.Adapter) error {
		for _, u := range verdict.Unique {
			src := bySyntheticID[u.ID]
			var categoryID any
			if s := categorize.Categorize(src.Description, rules); s.Confidence != categorize.ConfidenceNone {
				categoryID = s.CategoryID
			}
			var posted any
			if src.PostedDate != nil {
				posted = src.PostedDate.Format(dateLayout)
			}
			if err := tx.Run(`
				INSERT INTO transactions
					(id, account_id, category_id, description, amount_cents, date, posted_date, external_id, external_source)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				u.ID, accountID, categoryID, src.Description, src.AmountCents,
				src.Date.Format(dateLayout), posted, nullIfEmpty(src.ExternalID), nullIfEmpty(src.Source)); err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
			result.Imported++
		}
		if itemID != "" {
			if err := tx.Run(`
				INSERT INTO sync_cursors (item_id, cursor, last_synced_at) VALUES (?, ?, ?)
				ON CONFLICT(item_id) DO UPDATE SET cursor = excluded.cursor, last_synced_at = excluded.last_synced_at`,
				itemID, cursor, time.Now().UTC()); err != nil {
				return fmt.Errorf("save cursor: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		result.Imported = 0
		return result, err
	}

	if result.Imported > 0 && im.notify != nil {
		im.notify()
	}
	im.log.Info().Int("imported", result.Imported).Int("skipped", result.Skipped).Msg("import: batch done")
	return result, nil
}

// ImportCSV reads "date,description,amount" rows (dollar amounts,
// negative = money out) and runs them through ImportExternal. Bad lines
// are reported in the result, not fatal.
func (im *Importer) ImportCSV(ctx context.Context, accountID string, r io.Reader) (IngestResult, error) {
	var result IngestResult
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var txs []ExternalTransaction
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if line == 1 && looksLikeHeader(record) {
			continue
		}
		tx, err := parseCSVRecord(record)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		txs = append(txs, tx)
	}

	imported, err := im.ImportExternal(ctx, accountID, txs, "", "")
	if err != nil {
		return result, err
	}
	result.Imported = imported.Imported
	result.Skipped = imported.Skipped
	return result, nil
}

func parseCSVRecord(record []string) (ExternalTransaction, error) {
	if len(record) < 3 {
		return ExternalTransaction{}, fmt.Errorf("want 3 fields, got %d", len(record))
	}
	date, err := time.Parse(dateLayout, strings.TrimSpace(record[0]))
	if err != nil {
		return ExternalTransaction{}, fmt.Errorf("bad date %q", record[0])
	}
	desc := strings.TrimSpace(record[1])
	if desc == "" {
		return ExternalTransaction{}, fmt.Errorf("empty description")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(record[2]))
	if err != nil {
		return ExternalTransaction{}, fmt.Errorf("bad amount %q", record[2])
	}
	// exact dollars-to-cents; float parsing would drift on .01 amounts
	cents := amount.Shift(2)
	if !cents.IsInteger() {
		return ExternalTransaction{}, fmt.Errorf("amount %q has sub-cent precision", record[2])
	}
	return ExternalTransaction{
		Description: desc,
		AmountCents: cents.IntPart(),
		Date:        date,
		Source:      "csv",
	}, nil
}

func looksLikeHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	_, err := time.Parse(dateLayout, strings.TrimSpace(record[0]))
	return err != nil
}

func (im *Importer) loadExisting() ([]dedup.Transaction, error) {
	rows, err := im.db.All(`
		SELECT id, external_id, description, amount_cents, date, posted_date
		FROM transactions WHERE excluded = 0`)
	if err != nil {
		return nil, fmt.Errorf("importer: load existing: %w", err)
	}
	out := make([]dedup.Transaction, 0, len(rows))
	for _, r := range rows {
		t := dedup.Transaction{
			ID:          r["id"].(string),
			Description: r["description"].(string),
			AmountCents: r["amount_cents"].(int64),
		}
		if s, ok := r["external_id"].(string); ok {
			t.ExternalID = s
		}
		if d, err := time.Parse(dateLayout, asString(r["date"])); err == nil {
			t.Date = d
		}
		if s, ok := r["posted_date"].(string); ok {
			if d, err := time.Parse(dateLayout, s); err == nil {
				t.PostedDate = &d
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
