package compliance

import (
	"fmt"
	"log"
	"strings"

	"github.com/firmdesk/firmdesk/internal/auth"
	"github.com/firmdesk/firmdesk/internal/calendar"
	"github.com/firmdesk/firmdesk/internal/dates"
	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/firmdesk/firmdesk/internal/store"
)

// EditInput carries the editable fields of a task. Pointer fields only
// change when present, so a sparse request leaves the rest alone.
type EditInput struct {
	ApplyToSeries bool `json:"apply_to_series"`

	Title    *string `json:"title"`
	Category *string `json:"category"`
	Type     *string `json:"type"`
	Priority *string `json:"priority"`

	TriggerDaysBefore *int    `json:"trigger_days_before"`
	DueDateYmd        *string `json:"due_date_ymd"`
	SnoozedUntilYmd   *string `json:"snoozed_until_ymd"`

	AssignedToEmail *string `json:"assigned_to_email"`

	CalendarDescription *string `json:"calendar_description"`

	StartMail      *MailConfigInput `json:"start_mail"`
	CompletionMail *MailConfigInput `json:"completion_mail"`
}

// EditResult reports an edit.
type EditResult struct {
	UpdatedCount int `json:"updated_count"`
}

// EditTask applies shared fields to one occurrence, or to every sibling
// when apply_to_series is set. Due dates are per-occurrence scheduling
// state: a series-wide edit never moves them, and a due date change is
// only accepted for a single occurrence. Start dates always recompute from
// each occurrence's due date and the effective trigger.
func (s *Service) EditTask(actor auth.Identity, taskID string, in EditInput) (*EditResult, error) {
	if !actor.Privileged() {
		return nil, fmt.Errorf("%w: partner or manager only", ErrForbidden)
	}

	base, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}

	applyToSeries := in.ApplyToSeries && base.SeriesID != ""

	if in.DueDateYmd != nil && applyToSeries {
		return nil, fmt.Errorf("%w: due date can only change on a single occurrence", ErrInvalidInput)
	}
	if in.DueDateYmd != nil {
		if _, err := dates.ParseYmd(*in.DueDateYmd); err != nil {
			return nil, fmt.Errorf("%w: due_date_ymd: %v", ErrInvalidInput, err)
		}
	}
	if in.SnoozedUntilYmd != nil && *in.SnoozedUntilYmd != "" {
		if _, err := dates.ParseYmd(*in.SnoozedUntilYmd); err != nil {
			return nil, fmt.Errorf("%w: snoozed_until_ymd: %v", ErrInvalidInput, err)
		}
	}

	targets := []models.Task{*base}
	if applyToSeries {
		targets, err = s.store.TasksBySeries(base.SeriesID)
		if err != nil {
			return nil, err
		}
	}

	var assignedEmail, assignedUID string
	if in.AssignedToEmail != nil && strings.TrimSpace(*in.AssignedToEmail) != "" {
		assignedEmail, assignedUID = s.resolveAssignee(*in.AssignedToEmail, actor)
	}

	now := s.now().UTC()
	updated := 0
	for i := range targets {
		t := &targets[i]

		if in.Title != nil && strings.TrimSpace(*in.Title) != "" {
			t.Title = strings.TrimSpace(*in.Title)
		}
		if in.Category != nil {
			t.Category = models.Category(normalizeCategory(*in.Category))
		}
		if in.Type != nil {
			t.Type = normalizeType(*in.Type)
		}
		if in.Priority != nil {
			t.Priority = models.NormalizePriority(*in.Priority)
		}
		if in.TriggerDaysBefore != nil {
			trigger := *in.TriggerDaysBefore
			if trigger < 0 {
				trigger = 0
			}
			t.TriggerDaysBefore = trigger
		}
		if assignedEmail != "" {
			t.AssignedToEmail = assignedEmail
			t.AssignedToUID = assignedUID
		}
		if in.SnoozedUntilYmd != nil {
			t.SnoozedUntilYmd = *in.SnoozedUntilYmd
		}
		if in.CalendarDescription != nil {
			t.CalendarDescription = strings.TrimSpace(*in.CalendarDescription)
		}
		if in.StartMail != nil {
			t.StartMail = in.StartMail.toModel()
		}
		if in.CompletionMail != nil {
			t.CompletionMail = in.CompletionMail.toModel()
		}
		if in.DueDateYmd != nil && t.ID == taskID {
			t.DueDateYmd = *in.DueDateYmd
		}

		due, err := dates.ParseYmd(t.DueDateYmd)
		if err != nil {
			return nil, fmt.Errorf("%w: stored due date for task %s: %v", ErrInvalidInput, t.ID, err)
		}
		t.StartDateYmd = dates.StartDate(due, t.TriggerDaysBefore).String()
		t.UpdatedAt = now

		if err := s.store.SaveTask(t); err != nil {
			return nil, err
		}
		s.patchAfterEdit(t)

		s.audit.Record(s.actorOf(actor), "TASK_EDITED", t.ID, map[string]string{
			"applyToSeries": fmt.Sprintf("%t", applyToSeries),
			"seriesId":      t.SeriesID,
		})
		updated++
	}
	return &EditResult{UpdatedCount: updated}, nil
}

// patchAfterEdit refreshes the calendar mirror of an edited occurrence,
// keeping the completed marker when the task is already done.
func (s *Service) patchAfterEdit(t *models.Task) {
	if t.CalendarEventID == "" {
		return
	}
	var in calendar.EventInput
	if t.Status == models.StatusCompleted {
		in = calendar.CompletedEventInput(t.Title, t.ClientName, t.ClientID, t.StartDateYmd, t.DueDateYmd, t.CalendarDescription)
	} else {
		in = calendar.StartEventInput(t.Title, t.ClientName, t.ClientID, t.StartDateYmd, t.DueDateYmd, t.CalendarDescription)
	}
	if err := s.cal.Patch(t.CalendarEventID, in); err != nil {
		log.Printf("compliance: calendar patch failed for task %s: %v", t.ID, err)
	}
}

// DeleteResult reports a delete.
type DeleteResult struct {
	DeletedCount int `json:"deleted_count"`
}

// DeleteTask removes one occurrence, or the whole series when
// apply_to_series is set. Partners and managers may delete anything;
// associates only their own single occurrences. Siblings of a deleted
// occurrence keep their recorded total.
func (s *Service) DeleteTask(actor auth.Identity, taskID string, applyToSeries bool) (*DeleteResult, error) {
	base, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}

	if !actor.Privileged() {
		if base.AssignedToUID != actor.UID {
			return nil, fmt.Errorf("%w: task %s", ErrForbidden, taskID)
		}
		if applyToSeries {
			return nil, fmt.Errorf("%w: associates cannot delete an entire series", ErrForbidden)
		}
	}

	targets := []models.Task{*base}
	if applyToSeries && base.SeriesID != "" {
		targets, err = s.store.TasksBySeries(base.SeriesID)
		if err != nil {
			return nil, err
		}
		if !actor.Privileged() {
			for _, t := range targets {
				if t.AssignedToUID != actor.UID {
					return nil, fmt.Errorf("%w: series contains tasks not assigned to you", ErrForbidden)
				}
			}
		}
	}

	deleted := 0
	for _, t := range targets {
		if t.CalendarEventID != "" {
			if err := s.cal.Delete(t.CalendarEventID); err != nil {
				log.Printf("compliance: calendar delete failed for task %s: %v", t.ID, err)
			}
		}
		if err := s.store.DeleteTask(t.ID); err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		s.audit.Record(s.actorOf(actor), "TASK_DELETED", t.ID, map[string]string{
			"applyToSeries": fmt.Sprintf("%t", applyToSeries),
			"seriesId":      base.SeriesID,
		})
		deleted++
	}
	return &DeleteResult{DeletedCount: deleted}, nil
}

// ReassignSeries points every occurrence of a series at a new assignee.
func (s *Service) ReassignSeries(actor auth.Identity, seriesID, email string) (int, error) {
	if !actor.Privileged() {
		return 0, fmt.Errorf("%w: partner or manager only", ErrForbidden)
	}
	if seriesID == "" || strings.TrimSpace(email) == "" {
		return 0, fmt.Errorf("%w: series_id and assigned_to_email required", ErrInvalidInput)
	}

	u, err := s.store.FindUserByEmail(email)
	if err != nil {
		return 0, err
	}
	if u == nil {
		return 0, fmt.Errorf("%w: no user with email %s", ErrInvalidInput, email)
	}

	tasks, err := s.store.TasksBySeries(seriesID)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, fmt.Errorf("%w: series %s", ErrNotFound, seriesID)
	}

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	n, err := s.store.BulkReassign(ids, u.Email, u.ID, s.now().UTC())
	if err != nil {
		return n, err
	}
	for _, id := range ids {
		s.audit.Record(s.actorOf(actor), "SERIES_REASSIGN", id, map[string]string{
			"seriesId":        seriesID,
			"assignedToEmail": u.Email,
		})
	}
	return n, nil
}
