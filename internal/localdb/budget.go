package localdb

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var monthRE = regexp.MustCompile(`^\d{4}-\d{2}$`)

// UpsertBudget sets the budget for a category starting at the given
// month (YYYY-MM). One row per (category, month); re-setting replaces
// the amount.
func UpsertBudget(a Adapter, categoryID string, amountCents int64, startMonth string) error {
	if !monthRE.MatchString(startMonth) {
		return fmt.Errorf("localdb: start month %q is not YYYY-MM", startMonth)
	}
	if amountCents < 0 {
		return fmt.Errorf("localdb: budget amount must be non-negative")
	}
	return a.Run(`
		INSERT INTO category_budgets (id, category_id, amount_cents, start_month)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(category_id, start_month) DO UPDATE SET amount_cents = excluded.amount_cents`,
		uuid.NewString(), categoryID, amountCents, startMonth)
}
