package localdb

import (
	"github.com/google/uuid"
)

type seedCategory struct {
	Name  string
	Type  string
	Color string
}

var defaultCategories = []seedCategory{
	{"Income", "income", "#4caf50"},
	{"Groceries", "spending", "#8bc34a"},
	{"Restaurants", "spending", "#ff9800"},
	{"Coffee", "spending", "#795548"},
	{"Transport", "spending", "#2196f3"},
	{"Shopping", "spending", "#e91e63"},
	{"Utilities", "spending", "#607d8b"},
	{"Subscriptions", "spending", "#9c27b0"},
	{"Health", "spending", "#f44336"},
	{"Entertainment", "spending", "#00bcd4"},
	{"Savings", "transfer", "#3f51b5"},
	{"Transfers", "transfer", "#9e9e9e"},
}

// Preset rules ship a few unambiguous merchants so a brand-new database
// categorizes something on day one. User-learned rules override these on
// pattern collision.
var presetRules = []struct {
	Pattern  string
	Category string
}{
	{"NETFLIX", "Subscriptions"},
	{"SPOTIFY", "Subscriptions"},
	{"UBER", "Transport"},
	{"LYFT", "Transport"},
	{"AMAZON", "Shopping"},
	{"STARBUCKS", "Coffee"},
	{"WOOLWORTHS", "Groceries"},
	{"ALDI", "Groceries"},
}

// CategoryID returns the deterministic id used for a seeded category name.
func CategoryID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("category:"+name)).String()
}

// SeedDefaults populates baseline categories and preset rules on an empty
// database. It is idempotent: a database that already carries categories is
// left untouched, so user deletions survive reloads.
func SeedDefaults(a Adapter) error {
	row, err := a.Get(`SELECT COUNT(*) AS n FROM categories`)
	if err != nil {
		return err
	}
	if n, ok := row["n"].(int64); ok && n > 0 {
		return nil
	}
	for _, c := range defaultCategories {
		if err := a.Run(`
		INSERT INTO categories(id, name, category_type, color) VALUES(?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
			CategoryID(c.Name), c.Name, c.Type, c.Color); err != nil {
			return err
		}
	}
	for _, r := range presetRules {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("rule:"+r.Pattern)).String()
		if err := a.Run(`
		INSERT INTO categorization_rules(id, pattern, category_id, is_preset) VALUES(?, ?, ?, 1)
		ON CONFLICT(pattern) DO NOTHING`,
			id, r.Pattern, CategoryID(r.Category)); err != nil {
			return err
		}
	}
	return nil
}
