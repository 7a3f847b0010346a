package reconcile

import (
	"fmt"
	"html"
	"strings"

	"github.com/firmdesk/firmdesk/internal/dates"
	"github.com/firmdesk/firmdesk/internal/models"
)

// digestWindowDays bounds the forward-looking part of the digest.
const digestWindowDays = 30

// Digest partitions active tasks by due-date distance. A task in
// APPROVAL_PENDING appears both in ApprovalPending and in its date bucket.
type Digest struct {
	Overdue         []models.Task
	DueToday        []models.Task
	DueIn3          []models.Task
	DueIn7          []models.Task
	DueIn15         []models.Task
	DueIn30         []models.Task
	ApprovalPending []models.Task
}

// Empty reports whether every section is empty.
func (d Digest) Empty() bool {
	return len(d.Overdue) == 0 && len(d.DueToday) == 0 &&
		len(d.DueIn3) == 0 && len(d.DueIn7) == 0 &&
		len(d.DueIn15) == 0 && len(d.DueIn30) == 0 &&
		len(d.ApprovalPending) == 0
}

// TaskCount counts the tasks holding a date bucket. ApprovalPending is
// excluded since its members already sit in a date bucket.
func (d Digest) TaskCount() int {
	return len(d.Overdue) + len(d.DueToday) + len(d.DueIn3) +
		len(d.DueIn7) + len(d.DueIn15) + len(d.DueIn30)
}

// GroupDigest buckets tasks by whole-civil-day distance from today.
// COMPLETED tasks never appear; tasks due further out than the window are
// dropped. Input order is preserved within each bucket.
func GroupDigest(tasks []models.Task, today dates.Civil) Digest {
	var d Digest
	for _, t := range tasks {
		if t.DueDateYmd == "" {
			continue
		}
		if t.Status == models.StatusApprovalPending {
			d.ApprovalPending = append(d.ApprovalPending, t)
		}
		if t.Status == models.StatusCompleted {
			continue
		}
		due, err := dates.ParseYmd(t.DueDateYmd)
		if err != nil {
			continue
		}
		diff := today.DaysUntil(due)
		switch {
		case diff < 0:
			d.Overdue = append(d.Overdue, t)
		case diff == 0:
			d.DueToday = append(d.DueToday, t)
		case diff <= 3:
			d.DueIn3 = append(d.DueIn3, t)
		case diff <= 7:
			d.DueIn7 = append(d.DueIn7, t)
		case diff <= 15:
			d.DueIn15 = append(d.DueIn15, t)
		case diff <= digestWindowDays:
			d.DueIn30 = append(d.DueIn30, t)
		}
	}
	return d
}

// RenderHTML produces the digest mail body. An empty digest renders the
// "No Tasks To Display" placeholder rather than a bare header.
func RenderHTML(d Digest, today dates.Civil) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family:Arial,sans-serif;line-height:1.35">`)

	if d.Empty() {
		fmt.Fprintf(&b, `<h2 style="margin:0 0 6px">Daily Digest %s</h2>`, html.EscapeString(today.Display()))
		b.WriteString(`<div style="margin-top:10px;color:#555;font-size:13px;font-weight:700">No Tasks To Display</div>`)
		b.WriteString(`</div>`)
		return b.String()
	}

	fmt.Fprintf(&b, `<h2 style="margin:0 0 6px">Firm Task Digest %s</h2>`, html.EscapeString(today.Display()))
	fmt.Fprintf(&b, `<div style="color:#555;font-size:12px;margin-bottom:10px">Window: next %d days plus overdue</div>`, digestWindowDays)

	renderSection(&b, "Overdue", d.Overdue)
	renderSection(&b, "Due Today", d.DueToday)
	renderSection(&b, "Due in 1-3 days", d.DueIn3)
	renderSection(&b, "Due in 4-7 days", d.DueIn7)
	renderSection(&b, "Due in 8-15 days", d.DueIn15)
	renderSection(&b, "Due in 16-30 days", d.DueIn30)
	renderSection(&b, "Waiting for approval", d.ApprovalPending)

	b.WriteString(`<hr style="border:none;border-top:1px solid #ddd;margin:14px 0">`)
	b.WriteString(`<div style="color:#777;font-size:12px">Use the web app to filter by client, status and due date.</div>`)
	b.WriteString(`</div>`)
	return b.String()
}

func renderSection(b *strings.Builder, title string, items []models.Task) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, `<h3 style="margin:14px 0 6px">%s (%d)</h3>`, html.EscapeString(title), len(items))
	b.WriteString(`<ul style="margin:0 0 10px 18px;padding:0">`)
	for _, t := range items {
		b.WriteString(`<li><b>` + html.EscapeString(t.Title) + `</b>`)
		fmt.Fprintf(b, `<div style="color:#555;font-size:12px;margin-top:2px">Client: %s | Start: %s | Due: <b>%s</b> | Status: <b>%s</b> | Assignee: %s</div>`,
			html.EscapeString(t.ClientName),
			html.EscapeString(dates.DisplayYmd(t.StartDateYmd)),
			html.EscapeString(dates.DisplayYmd(t.DueDateYmd)),
			html.EscapeString(string(t.Status)),
			html.EscapeString(t.AssignedToEmail),
		)
		if note := strings.TrimSpace(t.StatusNote); note != "" {
			fmt.Fprintf(b, `<div style="color:#666;font-size:12px;margin-top:2px">Note: %s</div>`, html.EscapeString(note))
		}
		b.WriteString(`</li>`)
	}
	b.WriteString(`</ul>`)
}
