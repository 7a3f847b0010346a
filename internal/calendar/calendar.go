// Package calendar mirrors task schedules onto an external calendar.
package calendar

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/firmdesk/firmdesk/internal/dates"
)

// Window is the firm working window used to place timed events.
type Window struct {
	StartHH  int    `yaml:"start_hh" json:"start_hh"`
	EndHH    int    `yaml:"end_hh" json:"end_hh"`
	TimeZone string `yaml:"time_zone" json:"time_zone"`
}

// DefaultWindow is used when no window has been configured.
func DefaultWindow() Window {
	return Window{StartHH: 10, EndHH: 12, TimeZone: dates.DefaultZone}
}

// Event is the external record of a scheduled task.
type Event struct {
	ID       string
	HTMLLink string
}

// EventInput describes the event to create or patch.
type EventInput struct {
	Summary     string
	Description string
	WhenYmd     string
	ColorID     string
}

// Calendar is the provider surface the engine depends on. Patch and Delete
// tolerate an event that no longer exists.
type Calendar interface {
	Insert(in EventInput) (*Event, error)
	Patch(eventID string, in EventInput) error
	Delete(eventID string) error
}

// StartEventInput builds the event placed on a task's start date.
func StartEventInput(title, clientName, clientID, startYmd, dueYmd, extra string) EventInput {
	return EventInput{
		Summary:     "START: " + title,
		Description: eventDescription(clientName, clientID, startYmd, dueYmd, extra),
		WhenYmd:     startYmd,
	}
}

// CompletedEventInput builds the patch applied when a task completes. The
// summary keeps the START prefix so the event stays recognizable.
func CompletedEventInput(title, clientName, clientID, startYmd, dueYmd, extra string) EventInput {
	in := StartEventInput(title, clientName, clientID, startYmd, dueYmd, extra)
	in.Summary = "[COMPLETED] " + in.Summary
	in.ColorID = "2"
	return in
}

func eventDescription(clientName, clientID, startYmd, dueYmd, extra string) string {
	name := strings.TrimSpace(clientName)
	if name == "" {
		name = strings.TrimSpace(clientID)
	}
	base := fmt.Sprintf("Client: %s\nStart: %s\nDue: %s\n",
		name, dates.DisplayYmd(startYmd), dates.DisplayYmd(dueYmd))
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return base
	}
	return base + "\n" + extra
}

// TemplateURL returns a pre-filled add-to-calendar link for the recipient,
// placing the task on its start date within the firm window.
func TemplateURL(title, startYmd string, w Window, details string) string {
	if title == "" {
		title = "Compliance Task"
	}
	tz := w.TimeZone
	if tz == "" {
		tz = dates.DefaultZone
	}
	compact := strings.ReplaceAll(startYmd, "-", "")
	span := fmt.Sprintf("%sT%02d0000/%sT%02d0000", compact, w.StartHH, compact, w.EndHH)

	params := url.Values{}
	params.Set("action", "TEMPLATE")
	params.Set("text", title)
	params.Set("dates", span)
	params.Set("ctz", tz)
	params.Set("details", details)
	return "https://calendar.google.com/calendar/render?" + params.Encode()
}

// Noop satisfies Calendar when no provider is configured.
type Noop struct{}

func (Noop) Insert(EventInput) (*Event, error) { return &Event{}, nil }
func (Noop) Patch(string, EventInput) error    { return nil }
func (Noop) Delete(string) error               { return nil }
