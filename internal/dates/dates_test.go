package dates

import (
	"testing"
	"time"

	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDisplayRoundTrip(t *testing.T) {
	for _, s := range []string{"2025-01-31", "2024-02-29", "1999-12-01", "2025-06-15"} {
		c, err := ParseYmd(s)
		require.NoError(t, err, s)
		back, err := ParseDisplay(c.Display())
		require.NoError(t, err, s)
		assert.Equal(t, c, back)
		assert.Equal(t, s, back.String())
	}
}

func TestParseRejectsImpossibleDates(t *testing.T) {
	cases := []string{
		"31-02-2025", // Feb 31
		"30-02-2024",
		"32-01-2025",
		"00-01-2025",
		"",
		"2025/02/31",
		"2025-02-31 ",
	}
	for _, s := range cases {
		_, err := ParseDisplay(s)
		assert.ErrorIs(t, err, ErrInvalidDate, "display %q", s)
	}
	for _, s := range []string{"2025-02-31", "2025-13-01", "2025/02/01", "31-01-2025", ""} {
		_, err := ParseYmd(s)
		assert.ErrorIs(t, err, ErrInvalidDate, "ymd %q", s)
	}
}

func TestAdvanceIdentity(t *testing.T) {
	base := Civil{2025, time.January, 31}
	units := []models.Recurrence{
		models.RecurAdHoc, models.RecurDaily, models.RecurWeekly, models.RecurBiweekly,
		models.RecurMonthly, models.RecurBimonthly, models.RecurQuarterly,
		models.RecurHalfYearly, models.RecurYearly, models.Recurrence("BOGUS"),
	}
	for _, u := range units {
		assert.Equal(t, base, Advance(base, u, 0), string(u))
	}
}

func TestAdvanceMonotonic(t *testing.T) {
	base := Civil{2025, time.January, 31}
	units := []models.Recurrence{
		models.RecurDaily, models.RecurWeekly, models.RecurBiweekly,
		models.RecurMonthly, models.RecurBimonthly, models.RecurQuarterly,
		models.RecurHalfYearly, models.RecurYearly, models.RecurAdHoc,
	}
	for _, u := range units {
		prev := base
		for n := 1; n <= 24; n++ {
			cur := Advance(base, u, n)
			assert.False(t, cur.Before(prev), "%s step %d went backwards", u, n)
			prev = cur
		}
	}
}

func TestAdvanceMonthEndClamp(t *testing.T) {
	base := Civil{2025, time.January, 31}

	assert.Equal(t, "2025-02-28", Advance(base, models.RecurMonthly, 1).String())
	assert.Equal(t, "2025-03-31", Advance(base, models.RecurMonthly, 2).String())
	assert.Equal(t, "2025-04-30", Advance(base, models.RecurMonthly, 3).String())

	// Leap year keeps Feb 29.
	leap := Civil{2024, time.January, 31}
	assert.Equal(t, "2024-02-29", Advance(leap, models.RecurMonthly, 1).String())

	// Yearly lands Feb 29 on Feb 28 in common years.
	feb29 := Civil{2024, time.February, 29}
	assert.Equal(t, "2025-02-28", Advance(feb29, models.RecurYearly, 1).String())
}

func TestAdvanceUnknownUnitFallsBackToDays(t *testing.T) {
	base := Civil{2025, time.March, 1}
	assert.Equal(t, "2025-03-04", Advance(base, models.Recurrence("WEIRD"), 3).String())
}

func TestStartDate(t *testing.T) {
	due := Civil{2025, time.January, 31}
	assert.Equal(t, "2025-01-16", StartDate(due, 15).String())
	assert.Equal(t, "2025-01-31", StartDate(due, 0).String())
	// Idempotent: same inputs, same output.
	assert.Equal(t, StartDate(due, 15), StartDate(due, 15))
}

func TestDaysUntil(t *testing.T) {
	a := Civil{2025, time.January, 31}
	b := Civil{2025, time.February, 3}
	assert.Equal(t, 3, a.DaysUntil(b))
	assert.Equal(t, -3, b.DaysUntil(a))
	assert.Equal(t, 0, a.DaysUntil(a))
}

func TestFromTimeZoneAnchoring(t *testing.T) {
	loc, err := time.LoadLocation(DefaultZone)
	require.NoError(t, err)

	// 22:00 UTC on Jan 31 is already Feb 1 in the firm zone (UTC+5:30).
	instant := time.Date(2025, time.January, 31, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-02-01", FromTime(instant, loc).String())
	assert.Equal(t, "2025-01-31", FromTime(instant, time.UTC).String())
}

func TestDisplayYmd(t *testing.T) {
	assert.Equal(t, "31-01-2025", DisplayYmd("2025-01-31"))
	assert.Equal(t, "", DisplayYmd("garbage"))
	assert.Equal(t, "", DisplayYmd(""))
}
