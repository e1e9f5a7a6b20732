package categorize

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jask/moneyvault/internal/localdb"
)

func TestCategorizeTiers(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{ID: "r1", Pattern: "STARBUCKS", CategoryID: "coffee"},
		{ID: "r2", Pattern: "STARBUCKS DOWNTOWN", CategoryID: "fancy-coffee"},
	}

	// exact match wins over the shorter rule that also matches by contains
	s := Categorize("STARBUCKS DOWNTOWN", rules)
	require.Equal(t, "r2", s.RuleID)
	require.Equal(t, ConfidenceHigh, s.Confidence)

	// normalized descriptor reduces to an exact pattern hit
	s = Categorize("SQ *STARBUCKS 1234 SEATTLE WA 98101", rules)
	require.Equal(t, "r1", s.RuleID)
	require.Equal(t, ConfidenceHigh, s.Confidence)

	// pattern buried mid-description only rates medium
	s = Categorize("MORNING STARBUCKS RUN", rules)
	require.Equal(t, "r1", s.RuleID)
	require.Equal(t, ConfidenceMedium, s.Confidence)

	s = Categorize("UNKNOWN MERCHANT", rules)
	require.Equal(t, ConfidenceNone, s.Confidence)
	require.Empty(t, s.CategoryID)
}

func newTestDB(t *testing.T) localdb.Adapter {
	t.Helper()
	db, err := localdb.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Run(
		`INSERT INTO accounts (id, name, account_type) VALUES ('acct', 'Everyday', 'checking')`))
	return db
}

func insertTx(t *testing.T, db localdb.Adapter, id, desc string, confirmed, excluded int) {
	t.Helper()
	require.NoError(t, db.Run(`
		INSERT INTO transactions (id, account_id, description, amount_cents, date, is_confirmed, excluded)
		VALUES (?, 'acct', ?, -500, '2024-03-01', ?, ?)`,
		id, desc, confirmed, excluded))
}

func TestLearnUpsertsRuleAndRetags(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	insertTx(t, db, "t1", "STARBUCKS STORE #1234", 0, 0)
	insertTx(t, db, "t2", "STARBUCKS STORE 5678 SEATTLE", 0, 0)
	insertTx(t, db, "t3", "STARBUCKS STORE 9999", 0, 1) // excluded
	insertTx(t, db, "t4", "STARBUCKS STORE AIRPORT", 1, 0)
	insertTx(t, db, "t5", "ALDI 404", 0, 0)

	e := NewEngine(db, zerolog.Nop())
	coffee := localdb.CategoryID("Coffee")

	affected, err := e.Learn("t1", "STARBUCKS STORE #1234", coffee)
	require.NoError(t, err)
	// t2 only: t3 is excluded, t4 already confirmed, t5 a different merchant
	require.Equal(t, 1, affected)

	row, err := db.Get(`SELECT category_id FROM transactions WHERE id = 't2'`)
	require.NoError(t, err)
	require.Equal(t, coffee, row["category_id"])

	row, err = db.Get(`SELECT category_id FROM transactions WHERE id = 't5'`)
	require.NoError(t, err)
	require.Nil(t, row["category_id"])

	row, err = db.Get(`SELECT category_id, is_preset FROM categorization_rules WHERE pattern = 'STARBUCKS STORE'`)
	require.NoError(t, err)
	require.Equal(t, coffee, row["category_id"])

	// relearning the same merchant moves the rule, not duplicates it
	restaurants := localdb.CategoryID("Restaurants")
	_, err = e.Learn("t1", "STARBUCKS STORE #1234", restaurants)
	require.NoError(t, err)

	rows, err := db.All(`SELECT category_id FROM categorization_rules WHERE pattern = 'STARBUCKS STORE'`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, restaurants, rows[0]["category_id"])
}

func TestLearnSkipsDegeneratePatterns(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	insertTx(t, db, "t1", "AB", 0, 0)
	e := NewEngine(db, zerolog.Nop())

	before, err := db.Get(`SELECT COUNT(*) AS n FROM categorization_rules`)
	require.NoError(t, err)

	affected, err := e.Learn("t1", "AB", localdb.CategoryID("Shopping"))
	require.NoError(t, err)
	require.Zero(t, affected)

	after, err := db.Get(`SELECT COUNT(*) AS n FROM categorization_rules`)
	require.NoError(t, err)
	require.Equal(t, before["n"], after["n"])
}

func TestConfirmMarksAndLearns(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	insertTx(t, db, "t1", "NETFLIX.COM 123456", 0, 0)
	insertTx(t, db, "t2", "NETFLIX.COM 998877", 0, 0)

	e := NewEngine(db, zerolog.Nop())
	subs := localdb.CategoryID("Subscriptions")

	affected, err := e.Confirm("t1", subs)
	require.NoError(t, err)
	require.Equal(t, 1, affected)

	row, err := db.Get(`SELECT category_id, is_confirmed FROM transactions WHERE id = 't1'`)
	require.NoError(t, err)
	require.Equal(t, subs, row["category_id"])
	require.EqualValues(t, 1, row["is_confirmed"])

	_, err = e.Confirm("missing", subs)
	require.Error(t, err)
}

func TestSuggestUsesStoredRules(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	e := NewEngine(db, zerolog.Nop())

	// preset rules seeded with the schema
	s, err := e.Suggest("SPOTIFY P2834F88")
	require.NoError(t, err)
	require.Equal(t, localdb.CategoryID("Subscriptions"), s.CategoryID)
	require.NotEqual(t, ConfidenceNone, s.Confidence)
}
