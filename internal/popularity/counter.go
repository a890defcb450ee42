// Package popularity derives stable, slowly growing display counts from
// entity identifiers. Real view counts are not tracked anywhere; the number
// shown next to a listing is a pure function of its id and the calendar
// date, so every render across every node agrees without shared storage.
package popularity

import (
	"strconv"
	"time"
	"unicode/utf16"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Profile holds the counter tuning values. They are cosmetic product
// constants; changing any of them shifts every displayed number at once.
type Profile struct {
	// MinBase and MaxBase bound the per-entity starting value as the
	// half-open range [MinBase, MaxBase).
	MinBase int
	MaxBase int
	// GrowthMin and GrowthMax bound each day's increment as [GrowthMin, GrowthMax).
	GrowthMin int
	GrowthMax int
	// Epoch anchors the growth accumulation.
	Epoch time.Time
}

// DefaultProfile reproduces the historical display values exactly.
func DefaultProfile() Profile {
	return Profile{
		MinBase:   2056,
		MaxBase:   9999,
		GrowthMin: 2,
		GrowthMax: 10,
		Epoch:     time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Counter computes deterministic popularity counts for a profile. The zero
// value is not usable; construct with New.
type Counter struct {
	profile Profile
	printer *message.Printer
	now     func() time.Time
}

// New builds a counter for the given profile, formatting counts for the
// given locale.
func New(profile Profile, locale language.Tag) *Counter {
	if profile.MaxBase <= profile.MinBase {
		profile = DefaultProfile()
	}
	return &Counter{
		profile: profile,
		printer: message.NewPrinter(locale),
		now:     time.Now,
	}
}

// SeededHash maps an arbitrary string to a non-negative integer using the
// classic polynomial hash: every UTF-16 code unit folded in as
// h = h*31 + unit with 32-bit signed wraparound, absolute value taken last.
// Distinct strings may collide, but results spread across the full range.
func SeededHash(seed string) int {
	var h int32
	for _, unit := range utf16.Encode([]rune(seed)) {
		h = h*31 + int32(unit)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v)
}

// RatingCount returns the display count for id at the current wall-clock
// date.
func (c *Counter) RatingCount(id string) int {
	return c.RatingCountAt(id, c.now())
}

// RatingCountAt returns the display count for id as of the given instant.
// The result is reproducible for a fixed (id, date) pair and non-decreasing
// as the date advances.
func (c *Counter) RatingCountAt(id string, now time.Time) int {
	return c.baseCount(id) + c.dailyGrowth(id, c.daysSinceEpoch(now))
}

// baseCount maps the id's hash into [MinBase, MaxBase).
func (c *Counter) baseCount(id string) int {
	span := c.profile.MaxBase - c.profile.MinBase
	return c.profile.MinBase + SeededHash(id)%span
}

// daysSinceEpoch counts whole days between the epoch and now. The absolute
// difference keeps the computation defined even when the clock sits before
// the epoch.
func (c *Counter) daysSinceEpoch(now time.Time) int {
	diff := now.Sub(c.profile.Epoch)
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}

// dailyGrowth sums one pseudo-random increment per elapsed day. Each day
// gets its own seed so the accumulated curve looks organic instead of a
// flat daily step. The loop is O(days) on purpose: every day's increment
// depends on a distinct hash, and reproducing historical values requires
// replaying them in order.
func (c *Counter) dailyGrowth(id string, days int) int {
	span := c.profile.GrowthMax - c.profile.GrowthMin
	total := 0
	for day := 0; day < days; day++ {
		total += c.profile.GrowthMin + SeededHash(id+strconv.Itoa(day))%span
	}
	return total
}

// FormatCount renders a count with the counter's locale-appropriate
// thousands separators.
func (c *Counter) FormatCount(count int) string {
	return c.printer.Sprintf("%d", count)
}

var defaultCounter = New(DefaultProfile(), language.English)

// GetRatingCount returns the display count for id using the default profile
// and the current date.
func GetRatingCount(id string) int {
	return defaultCounter.RatingCount(id)
}

// FormatCount renders a count with grouped thousands separators in the
// default locale.
func FormatCount(count int) string {
	return defaultCounter.FormatCount(count)
}
