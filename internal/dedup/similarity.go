package dedup

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"
)

// CombinedScore is the Tier-1 description similarity: the maximum of
// Jaro-Winkler, a containment heuristic, and a word-overlap ratio. All
// three tolerate a different failure mode of bank descriptors (typos,
// processor prefixes, reordered tokens).
func CombinedScore(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	score := smetrics.JaroWinkler(a, b, 0.7, 4)
	if c := containmentScore(a, b); c > score {
		score = c
	}
	if w := wordOverlapScore(a, b); w > score {
		score = w
	}
	return score
}

// containmentScore handles descriptors where one side is the other plus
// processor noise, e.g. "starbucks" inside "sq *starbucks 1234". Strings
// are reduced to their alphanumeric characters first.
func containmentScore(a, b string) float64 {
	na, nb := alnum(a), alnum(b)
	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) < 3 || !strings.Contains(longer, shorter) {
		return 0
	}
	if len(shorter) >= 5 {
		return 0.92
	}
	// very short contained strings score by length ratio, 0.7..1.0
	return 0.7 + 0.3*float64(len(shorter))/float64(len(longer))
}

// wordOverlapScore is the fraction of >=3-letter words in one description
// that have a close (Jaro-Winkler >= 0.85) partner in the other. The better
// of the two directions wins, so extra noise words on one side do not sink
// an otherwise full overlap.
func wordOverlapScore(a, b string) float64 {
	aw, bw := words(a), words(b)
	if len(aw) == 0 || len(bw) == 0 {
		return 0
	}
	return maxf(overlapFraction(aw, bw), overlapFraction(bw, aw))
}

func overlapFraction(from, to []string) float64 {
	matched := 0
	for _, w := range from {
		for _, u := range to {
			if smetrics.JaroWinkler(w, u, 0.7, 4) >= 0.85 {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(from))
}

// levenshteinRatio is the edit distance normalized by the longer length;
// used as a cheap prefilter before the combined score.
func levenshteinRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}

func alnum(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func words(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := parts[:0]
	for _, p := range parts {
		if len(p) >= 3 {
			out = append(out, p)
		}
	}
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
