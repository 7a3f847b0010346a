// Package series plans the expansion of a recurrence template into
// occurrence slots. Planning is pure; the compliance service materializes
// the slots into stored tasks with their side effects.
package series

import (
	"errors"
	"sort"

	"github.com/firmdesk/firmdesk/internal/dates"
	"github.com/firmdesk/firmdesk/internal/models"
)

// ErrEmptySeries is returned when an append targets a series with no
// surviving occurrences.
var ErrEmptySeries = errors.New("series has no occurrences")

// Slot is one planned occurrence: where it sits in the series and the dates
// derived for it.
type Slot struct {
	Index        int
	Total        int
	DueDateYmd   string
	StartDateYmd string
}

// Plan is the result of expanding or extending a series.
type Plan struct {
	// NeedsSeriesID is true when the slots form a real multi-occurrence
	// series and a series identifier must be allocated for them.
	NeedsSeriesID bool
	Total         int
	Slots         []Slot
}

// Expand produces count occurrence slots from a base due date. Ad-hoc
// templates always collapse to a single occurrence regardless of the
// requested count, and only a genuine multi-occurrence run gets a series
// identifier.
func Expand(unit models.Recurrence, baseDue dates.Civil, count, triggerDaysBefore int) Plan {
	if count < 1 {
		count = 1
	}
	if unit == models.RecurAdHoc {
		count = 1
	}

	slots := make([]Slot, 0, count)
	for i := 0; i < count; i++ {
		due := dates.Advance(baseDue, unit, i)
		slots = append(slots, Slot{
			Index:        i + 1,
			Total:        count,
			DueDateYmd:   due.String(),
			StartDateYmd: dates.StartDate(due, triggerDaysBefore).String(),
		})
	}

	return Plan{
		NeedsSeriesID: count > 1 && unit != models.RecurAdHoc,
		Total:         count,
		Slots:         slots,
	}
}

// anchorDue returns the due date the series advances from: occurrence #1 if
// it survives, because later occurrences may have been hand-edited, else the
// smallest stored due date.
func anchorDue(existing []models.Task) (dates.Civil, error) {
	for _, t := range existing {
		if t.OccurrenceIndex == 1 {
			return dates.ParseYmd(t.DueDateYmd)
		}
	}
	ymds := make([]string, 0, len(existing))
	for _, t := range existing {
		if t.DueDateYmd != "" {
			ymds = append(ymds, t.DueDateYmd)
		}
	}
	if len(ymds) == 0 {
		return dates.Civil{}, ErrEmptySeries
	}
	sort.Strings(ymds)
	return dates.ParseYmd(ymds[0])
}

// Append plans addCount new occurrences after the highest existing index.
// Indices already present are skipped so a retried append cannot create
// duplicates; every slot (and, via Total, every surviving sibling) carries
// the new series total.
func Append(existing []models.Task, unit models.Recurrence, triggerDaysBefore, addCount int) (Plan, error) {
	if len(existing) == 0 {
		return Plan{}, ErrEmptySeries
	}
	if addCount < 1 {
		addCount = 1
	}

	base, err := anchorDue(existing)
	if err != nil {
		return Plan{}, err
	}

	maxIdx := 0
	taken := make(map[int]struct{}, len(existing))
	for _, t := range existing {
		if t.OccurrenceIndex > maxIdx {
			maxIdx = t.OccurrenceIndex
		}
		if t.OccurrenceIndex > 0 {
			taken[t.OccurrenceIndex] = struct{}{}
		}
	}
	if maxIdx == 0 {
		// Legacy rows without explicit indices: treat them as 1..n.
		maxIdx = len(existing)
	}

	newTotal := maxIdx + addCount
	var slots []Slot
	for idx := maxIdx + 1; idx <= newTotal; idx++ {
		if _, ok := taken[idx]; ok {
			continue
		}
		due := dates.Advance(base, unit, idx-1)
		slots = append(slots, Slot{
			Index:        idx,
			Total:        newTotal,
			DueDateYmd:   due.String(),
			StartDateYmd: dates.StartDate(due, triggerDaysBefore).String(),
		})
	}

	return Plan{NeedsSeriesID: false, Total: newTotal, Slots: slots}, nil
}
