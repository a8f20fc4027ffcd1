package matcher

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeReference canonicalizes a document reference for comparison:
// whitespace, hyphens, underscores, periods, and commas are stripped and the
// result is upper-cased. The function is pure and locale-independent, so
// identical input always yields identical output.
func NormalizeReference(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))

	for _, r := range raw {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '_', '.', ',':
			continue
		}
		sb.WriteRune(r)
	}

	return strings.ToUpper(sb.String())
}

// AmountsWithinTolerance reports whether two amounts agree within either the
// absolute limit or the percentage limit taken against the larger magnitude.
func AmountsWithinTolerance(a, b, absoluteLimit, percentLimit decimal.Decimal) bool {
	diff := a.Sub(b).Abs()

	if diff.LessThanOrEqual(absoluteLimit) {
		return true
	}

	larger := a.Abs()
	if b.Abs().GreaterThan(larger) {
		larger = b.Abs()
	}

	return diff.LessThanOrEqual(percentLimit.Mul(larger))
}

// DatesWithinWindow reports whether the absolute calendar-day difference
// between two dates is at most days. Time-of-day and timezone are ignored.
func DatesWithinWindow(a, b time.Time, days int) bool {
	return CalendarDaysApart(a, b) <= days
}

// SameCalendarDay reports whether two times fall on the same calendar day.
func SameCalendarDay(a, b time.Time) bool {
	return dateOnly(a).Equal(dateOnly(b))
}

// CalendarDaysApart returns the absolute difference between two dates in
// whole calendar days.
func CalendarDaysApart(a, b time.Time) int {
	da := dateOnly(a)
	db := dateOnly(b)

	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}

	return int(diff.Hours() / 24)
}

// dateOnly truncates a time to midnight UTC of its calendar date.
func dateOnly(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
