// Package dates implements the civil-date arithmetic every due/start date
// calculation goes through. Dates carry no time of day; anything that needs
// an instant anchors the civil date in the firm's fixed time zone.
package dates

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/firmdesk/firmdesk/internal/models"
)

// ErrInvalidDate is returned for malformed or impossible calendar dates.
var ErrInvalidDate = errors.New("invalid date")

// DefaultZone is the firm-wide civil time zone. All date math is anchored
// here regardless of server-local time.
const DefaultZone = "Asia/Kolkata"

// Civil is a calendar date with no time-of-day or zone component.
type Civil struct {
	Year  int
	Month time.Month
	Day   int
}

var (
	ymdRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	dmyRe = regexp.MustCompile(`^(\d{2})-(\d{2})-(\d{4})$`)
)

// ParseYmd parses the canonical storage format YYYY-MM-DD and rejects
// impossible dates such as 2025-02-31.
func ParseYmd(s string) (Civil, error) {
	m := ymdRe.FindStringSubmatch(s)
	if m == nil {
		return Civil{}, fmt.Errorf("%w: %q (want YYYY-MM-DD)", ErrInvalidDate, s)
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Civil{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	c := Civil{Year: t.Year(), Month: t.Month(), Day: t.Day()}
	// time.Parse normalizes overflow (Feb 31 -> Mar 3); a changed round
	// trip means the input named a day that does not exist.
	if c.String() != s {
		return Civil{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return c, nil
}

// ParseDisplay parses the human-facing format DD-MM-YYYY.
func ParseDisplay(s string) (Civil, error) {
	m := dmyRe.FindStringSubmatch(s)
	if m == nil {
		return Civil{}, fmt.Errorf("%w: %q (want DD-MM-YYYY)", ErrInvalidDate, s)
	}
	return ParseYmd(m[3] + "-" + m[2] + "-" + m[1])
}

// String returns the storage format YYYY-MM-DD.
func (c Civil) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", c.Year, int(c.Month), c.Day)
}

// Display returns the human-facing format DD-MM-YYYY.
func (c Civil) Display() string {
	return fmt.Sprintf("%02d-%02d-%04d", c.Day, int(c.Month), c.Year)
}

// IsZero reports whether c is the zero date.
func (c Civil) IsZero() bool { return c == Civil{} }

// In returns the instant at midnight of c in loc.
func (c Civil) In(loc *time.Location) time.Time {
	return time.Date(c.Year, c.Month, c.Day, 0, 0, 0, 0, loc)
}

// FromTime returns the civil date of t as observed in loc.
func FromTime(t time.Time, loc *time.Location) Civil {
	t = t.In(loc)
	return Civil{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Before reports whether c is strictly earlier than o.
func (c Civil) Before(o Civil) bool {
	if c.Year != o.Year {
		return c.Year < o.Year
	}
	if c.Month != o.Month {
		return c.Month < o.Month
	}
	return c.Day < o.Day
}

// AddDays returns c shifted by n civil days (n may be negative).
func (c Civil) AddDays(n int) Civil {
	t := time.Date(c.Year, c.Month, c.Day+n, 0, 0, 0, 0, time.UTC)
	return Civil{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// DaysUntil returns the whole-day difference o-c.
func (c Civil) DaysUntil(o Civil) int {
	a := time.Date(c.Year, c.Month, c.Day, 0, 0, 0, 0, time.UTC)
	b := time.Date(o.Year, o.Month, o.Day, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonths advances by whole calendar months, clamping the day-of-month to
// the length of the target month (Jan 31 + 1 month = Feb 28/29). Go's
// AddDate would roll the overflow into the next month instead; the clamp
// keeps a month-end anchor on month-end.
func addMonths(c Civil, n int) Civil {
	y := c.Year
	m := int(c.Month) - 1 + n
	y += m / 12
	m = m % 12
	if m < 0 {
		m += 12
		y--
	}
	month := time.Month(m + 1)
	d := c.Day
	if max := daysInMonth(y, month); d > max {
		d = max
	}
	return Civil{Year: y, Month: month, Day: d}
}

// Advance moves base forward by steps units of the recurrence. A step count
// of zero returns base unchanged. Unknown units fall back to daily; this
// never fails.
func Advance(base Civil, unit models.Recurrence, steps int) Civil {
	if steps == 0 {
		return base
	}
	switch unit {
	case models.RecurDaily:
		return base.AddDays(steps)
	case models.RecurWeekly:
		return base.AddDays(steps * 7)
	case models.RecurBiweekly:
		return base.AddDays(steps * 14)
	case models.RecurMonthly:
		return addMonths(base, steps)
	case models.RecurBimonthly:
		return addMonths(base, steps*2)
	case models.RecurQuarterly:
		return addMonths(base, steps*3)
	case models.RecurHalfYearly:
		return addMonths(base, steps*6)
	case models.RecurYearly:
		return addMonths(base, steps*12)
	default:
		return base.AddDays(steps)
	}
}

// StartDate derives the start milestone from a due date and the trigger
// window in days. Recomputing with the same inputs always yields the same
// result.
func StartDate(due Civil, triggerDaysBefore int) Civil {
	return due.AddDays(-triggerDaysBefore)
}

// DisplayYmd converts a stored YYYY-MM-DD string to DD-MM-YYYY for
// human-facing payloads, returning "" for anything unparseable.
func DisplayYmd(ymd string) string {
	c, err := ParseYmd(ymd)
	if err != nil {
		return ""
	}
	return c.Display()
}
