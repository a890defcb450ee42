package popularity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func testCounter() *Counter {
	return New(DefaultProfile(), language.English)
}

func TestSeededHashDeterminism(t *testing.T) {
	require.Equal(t, SeededHash("clinic-42"), SeededHash("clinic-42"))
	require.Equal(t, 0, SeededHash(""))
	require.NotEqual(t, SeededHash("clinic-42"), SeededHash("clinic-43"))
}

func TestSeededHashKnownValues(t *testing.T) {
	// h("a") = 'a' = 97; h("ab") = 97*31 + 98 = 3105.
	require.Equal(t, 97, SeededHash("a"))
	require.Equal(t, 3105, SeededHash("ab"))
}

func TestSeededHashWrapsToSigned32Bit(t *testing.T) {
	// Long inputs overflow int32; the absolute value of the wrapped hash
	// must stay non-negative and stable.
	seed := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	h := SeededHash(seed)
	require.GreaterOrEqual(t, h, 0)
	require.Equal(t, h, SeededHash(seed))
}

func TestRatingCountDeterminism(t *testing.T) {
	c := testCounter()
	now := time.Date(2025, time.June, 15, 12, 30, 0, 0, time.UTC)
	first := c.RatingCountAt("hospital-7", now)
	second := c.RatingCountAt("hospital-7", now)
	require.Equal(t, first, second)
}

func TestRatingCountMonotonicity(t *testing.T) {
	c := testCounter()
	id := "school-jobs-11"
	prev := c.RatingCountAt(id, c.profile.Epoch)
	for day := 1; day <= 120; day++ {
		now := c.profile.Epoch.Add(time.Duration(day) * 24 * time.Hour)
		count := c.RatingCountAt(id, now)
		require.GreaterOrEqual(t, count, prev, "count regressed on day %d", day)
		prev = count
	}
}

func TestRatingCountDailyIncrementBounds(t *testing.T) {
	c := testCounter()
	id := "tuition-3"
	prev := c.RatingCountAt(id, c.profile.Epoch)
	for day := 1; day <= 30; day++ {
		now := c.profile.Epoch.Add(time.Duration(day) * 24 * time.Hour)
		count := c.RatingCountAt(id, now)
		delta := count - prev
		require.GreaterOrEqual(t, delta, c.profile.GrowthMin)
		require.Less(t, delta, c.profile.GrowthMax)
		prev = count
	}
}

func TestRatingCountBeforeEpoch(t *testing.T) {
	c := testCounter()
	before := c.profile.Epoch.Add(-72 * time.Hour)
	count := c.RatingCountAt("clinic-1", before)
	// Three days before the epoch accrues three days of growth, mirroring
	// the absolute-difference semantics.
	base := c.baseCount("clinic-1")
	require.Greater(t, count, base)
}

func TestRatingCountDistribution(t *testing.T) {
	c := testCounter()
	now := c.profile.Epoch
	seen := make(map[int]struct{})
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("entity-%d", i)
		base := c.baseCount(id)
		require.GreaterOrEqual(t, base, c.profile.MinBase)
		require.Less(t, base, c.profile.MaxBase)
		seen[c.RatingCountAt(id, now)] = struct{}{}
	}
	require.Greater(t, len(seen), 100, "expected counts to vary across ids")
}

func TestEmptyIDTreatedAsEmptySeed(t *testing.T) {
	c := testCounter()
	require.Equal(t, c.profile.MinBase, c.baseCount(""))
}

func TestFormatCount(t *testing.T) {
	c := testCounter()
	require.Equal(t, "1,234,567", c.FormatCount(1234567))
	require.Equal(t, "0", c.FormatCount(0))
	require.Equal(t, "2,056", c.FormatCount(2056))
}

func TestPackageLevelHelpers(t *testing.T) {
	require.Equal(t, GetRatingCount("clinic-9"), GetRatingCount("clinic-9"))
	require.Equal(t, "9,999", FormatCount(9999))
}

func TestNewFallsBackOnEmptyRange(t *testing.T) {
	c := New(Profile{MinBase: 10, MaxBase: 10}, language.English)
	require.Equal(t, DefaultProfile().MinBase, c.profile.MinBase)
}
