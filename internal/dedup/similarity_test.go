package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCombinedScoreStarbucksVariants(t *testing.T) {
	t.Parallel()

	// processor prefix + dropped store marker, the canonical aggregator case
	score := CombinedScore("STARBUCKS STORE #1234", "SQ *STARBUCKS 1234")
	require.GreaterOrEqual(t, score, 0.9)
}

func TestCombinedScoreIdenticalAndEmpty(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.0, CombinedScore("WOOLWORTHS 2034", "woolworths 2034"))
	require.Equal(t, 0.0, CombinedScore("", "ANYTHING"))
	require.Equal(t, 0.0, CombinedScore("ANYTHING", "   "))
}

func TestCombinedScoreDistinctMerchants(t *testing.T) {
	t.Parallel()

	score := CombinedScore("SHELL FUEL 8812", "WOOLWORTHS METRO")
	require.Less(t, score, 0.65, "unrelated merchants must fall below the uncertain band")
}

func TestContainmentScore(t *testing.T) {
	t.Parallel()

	// shorter (>=5 alnum chars) fully contained in longer
	require.InDelta(t, 0.92, containmentScore("netflix", "netflix.com 4029357733"), 1e-9)
	// not contained
	require.Equal(t, 0.0, containmentScore("spotify", "netflix"))
	// too short to be meaningful
	require.Equal(t, 0.0, containmentScore("ab", "ab solutely long descriptor"))
}

func TestWordOverlapScore(t *testing.T) {
	t.Parallel()

	// every >=3-letter word on the shorter side has a close partner
	require.Equal(t, 1.0, wordOverlapScore("uber trip help.uber.com", "uber trip"))
	require.Equal(t, 0.0, wordOverlapScore("shell", "chevron"))
}

func TestLevenshteinRatio(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, levenshteinRatio("", ""))
	require.Equal(t, 1.0, levenshteinRatio("abc", ""))
	require.Less(t, levenshteinRatio("STARBUCKS STORE #1234", "SQ *STARBUCKS 1234"), 0.95)
}
