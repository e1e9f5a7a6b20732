package categorize

import (
	"regexp"
	"strings"
)

// Transaction-type markers that banks and processors prepend to the
// merchant. Longer prefixes first so e.g. "POS DEBIT " wins over "POS ".
var typePrefixes = []string{
	"PURCHASE AUTHORIZED ON ",
	"PURCHASE ",
	"POS DEBIT ",
	"POS PURCHASE ",
	"POS ",
	"DEBIT CARD ",
	"DEBIT ",
	"CHECKCARD ",
	"CHECK CARD ",
	"RECURRING PAYMENT ",
	"WEB AUTHORIZED PMT ",
	"VISA ",
	"MASTERCARD ",
	"SQ *",
	"SQU*",
	"TST* ",
	"TST*",
	"PAYPAL *",
	"PP*",
	"PY *",
	"CKCD ",
	"ACH ",
}

// Payroll / direct-deposit markers that trail the employer name.
var typeSuffixes = []string{
	" DIRECT DEP",
	" DIR DEP",
	" PAYROLL",
	" DES:",
	" ACH CREDIT",
	" ACH",
	" PPD",
}

// minSuffixOffset keeps a short merchant name that happens to contain a
// marker (e.g. "ACHME") from being truncated to nothing.
const minSuffixOffset = 4

var (
	dateLikeRE     = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?\b`)
	trailingNumRE  = regexp.MustCompile(`\s+\d+$`)
	zipRE          = regexp.MustCompile(`^\d{5}(?:-\d{4})?$`)
	hashIDRE       = regexp.MustCompile(`\s*#\S+$`)
	refIDRE        = regexp.MustCompile(`\s+(?:REF|ID)[:#]?\S*$`)
	locationRE     = regexp.MustCompile(`\s+(?:[A-Z'.]+\s+)?[A-Z]{2}\s+\d{5}(?:-\d{4})?$`)
	stateRE        = regexp.MustCompile(`\s+[A-Z]{2}$`)
	whitespaceRE   = regexp.MustCompile(`\s+`)
	trailingJunk   = " \t-/|*#.,:;&"
	longSeparators = []string{" - ", " / ", " @ ", " | "}
)

// ExtractMerchantPattern normalizes a raw bank descriptor down to the
// stable merchant substring used as a categorization-rule key.
//
//	"PURCHASE SQ *STARBUCKS 1234 SEATTLE WA 98101" -> "STARBUCKS"
//
// The steps are order-sensitive: strip type prefixes and suffixes, then
// embedded dates, then trailing reference ids, locations and separators
// until stable, then cut over-long leftovers.
func ExtractMerchantPattern(description string) string {
	s := strings.ToUpper(strings.TrimSpace(description))

	for changed := true; changed; {
		changed = false
		for _, p := range typePrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(strings.TrimPrefix(s, p))
				changed = true
			}
		}
	}

	for _, suf := range typeSuffixes {
		if idx := strings.Index(s, suf); idx >= minSuffixOffset {
			s = s[:idx]
		}
	}

	s = dateLikeRE.ReplaceAllString(s, " ")
	s = strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))

	s = stripTrailing(s)

	if len(s) > 30 {
		for _, sep := range longSeparators {
			if idx := strings.Index(s, sep); idx >= 5 && idx <= 30 {
				s = s[:idx]
				break
			}
		}
	}
	if len(s) > 25 {
		if fields := strings.Fields(s); len(fields) > 3 {
			s = strings.Join(fields[:3], " ")
		}
	}
	return strings.TrimSpace(s)
}

// stripTrailing repeatedly removes trailing reference numbers, #-ids,
// REF/ID suffixes, "CITY ST 98101" location tails, bare state codes and
// separator runs until the string stops changing. Iterating matters:
// removing a ZIP exposes a state code, which exposes a store number.
func stripTrailing(s string) string {
	for {
		prev := s
		s = hashIDRE.ReplaceAllString(s, "")
		s = refIDRE.ReplaceAllString(s, "")
		s = locationRE.ReplaceAllString(s, "")
		// trailing digit run that is not a lone ZIP (the location rule
		// above owns those while a state code is still attached)
		if m := trailingNumRE.FindString(s); m != "" && !zipRE.MatchString(strings.TrimSpace(m)) {
			s = strings.TrimSuffix(s, m)
		}
		if fields := strings.Fields(s); len(fields) > 1 {
			if zipRE.MatchString(fields[len(fields)-1]) {
				s = strings.TrimSpace(strings.TrimSuffix(s, fields[len(fields)-1]))
			}
		}
		if fields := strings.Fields(s); len(fields) > 1 {
			s = stateRE.ReplaceAllString(s, "")
		}
		s = strings.TrimRight(s, trailingJunk)
		s = strings.TrimSpace(s)
		if s == prev {
			return s
		}
	}
}
