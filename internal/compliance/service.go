// Package compliance implements the task lifecycle engine: series
// generation, edits, deletes, status transitions, and bulk operations.
package compliance

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/firmdesk/firmdesk/internal/audit"
	"github.com/firmdesk/firmdesk/internal/auth"
	"github.com/firmdesk/firmdesk/internal/calendar"
	"github.com/firmdesk/firmdesk/internal/dates"
	"github.com/firmdesk/firmdesk/internal/mail"
	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/firmdesk/firmdesk/internal/series"
	"github.com/firmdesk/firmdesk/internal/store"
	"github.com/google/uuid"
)

// Service wires the store, calendar, and mail providers into the task
// operations exposed over HTTP and the CLI.
type Service struct {
	store     *store.Store
	audit     *audit.Logger
	cal       calendar.Calendar
	mailer    mail.Mailer
	window    calendar.Window
	zone      *time.Location
	signature string
	now       func() time.Time
}

// New creates the service. A nil calendar or mailer falls back to no-ops.
func New(s *store.Store, a *audit.Logger, cal calendar.Calendar, mailer mail.Mailer, window calendar.Window, signature string) *Service {
	if cal == nil {
		cal = calendar.Noop{}
	}
	if mailer == nil {
		mailer = mail.Noop{}
	}
	loc, err := time.LoadLocation(window.TimeZone)
	if err != nil {
		loc, _ = time.LoadLocation(dates.DefaultZone)
	}
	return &Service{
		store:     s,
		audit:     a,
		cal:       cal,
		mailer:    mailer,
		window:    window,
		zone:      loc,
		signature: signature,
		now:       time.Now,
	}
}

// Today returns the current civil date in the firm zone.
func (s *Service) Today() dates.Civil {
	return dates.FromTime(s.now(), s.zone)
}

func (s *Service) actorOf(id auth.Identity) audit.Actor {
	return audit.Actor{UID: id.UID, Email: id.Email}
}

// MailConfigInput is the request shape for a notification track. Enabled
// defaults to true when omitted, matching how clients expect a track to
// behave unless explicitly switched off.
type MailConfigInput struct {
	Enabled    *bool    `json:"enabled"`
	To         []string `json:"to"`
	Cc         []string `json:"cc"`
	Bcc        []string `json:"bcc"`
	CcAssignee bool     `json:"cc_assignee"`
	CcManager  bool     `json:"cc_manager"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

func (in *MailConfigInput) toModel() models.MailConfig {
	if in == nil {
		return models.MailConfig{Enabled: true}
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	return models.MailConfig{
		Enabled:    enabled,
		To:         cleanAddresses(in.To),
		Cc:         cleanAddresses(in.Cc),
		Bcc:        cleanAddresses(in.Bcc),
		CcAssignee: in.CcAssignee,
		CcManager:  in.CcManager,
		Subject:    in.Subject,
		Body:       in.Body,
	}
}

func cleanAddresses(xs []string) []string {
	var out []string
	for _, x := range xs {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}

// CreateSeriesInput describes a template to expand into occurrences.
type CreateSeriesInput struct {
	ClientID    string `json:"client_id"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`

	Title    string `json:"title"`
	Category string `json:"category"`
	Type     string `json:"type"`
	Priority string `json:"priority"`

	Recurrence        string `json:"recurrence"`
	DueDateYmd        string `json:"due_date_ymd"`
	GenerateCount     int    `json:"generate_count"`
	TriggerDaysBefore *int   `json:"trigger_days_before"`

	AssignedToEmail     string `json:"assigned_to_email"`
	CalendarDescription string `json:"calendar_description"`

	StartMail      *MailConfigInput `json:"start_mail"`
	CompletionMail *MailConfigInput `json:"completion_mail"`
}

// CreateSeries expands a template into occurrence rows, mirrors each onto
// the calendar, and returns the created tasks in index order.
func (s *Service) CreateSeries(actor auth.Identity, in CreateSeriesInput) ([]models.Task, error) {
	if !actor.Privileged() {
		return nil, fmt.Errorf("%w: partner or manager only", ErrForbidden)
	}
	if strings.TrimSpace(in.Title) == "" {
		in.Title = "Untitled"
	}

	baseDue, err := dates.ParseYmd(in.DueDateYmd)
	if err != nil {
		return nil, fmt.Errorf("%w: due_date_ymd: %v", ErrInvalidInput, err)
	}

	trigger := 15
	if in.TriggerDaysBefore != nil {
		trigger = *in.TriggerDaysBefore
		if trigger < 0 {
			trigger = 0
		}
	}

	count := in.GenerateCount
	if count < 1 {
		count = 1
	}

	client, err := s.getOrCreateClient(in.ClientID, in.ClientName, in.ClientEmail)
	if err != nil {
		return nil, err
	}

	assignedEmail, assignedUID := s.resolveAssignee(in.AssignedToEmail, actor)

	recur := models.NormalizeRecurrence(in.Recurrence)
	plan := series.Expand(recur, baseDue, count, trigger)

	seriesID := ""
	if plan.NeedsSeriesID {
		seriesID = uuid.New().String()
	}

	now := s.now().UTC()
	startCfg := in.StartMail.toModel()
	compCfg := in.CompletionMail.toModel()

	created := make([]models.Task, 0, len(plan.Slots))
	for _, slot := range plan.Slots {
		task := models.Task{
			ClientID:            client.ID,
			ClientName:          client.Name,
			SeriesID:            seriesID,
			OccurrenceIndex:     slot.Index,
			OccurrenceTotal:     slot.Total,
			Title:               strings.TrimSpace(in.Title),
			Category:            models.Category(normalizeCategory(in.Category)),
			Type:                normalizeType(in.Type),
			Priority:            models.NormalizePriority(in.Priority),
			Recur:               recur,
			DueDateYmd:          slot.DueDateYmd,
			StartDateYmd:        slot.StartDateYmd,
			TriggerDaysBefore:   trigger,
			Status:              models.StatusPending,
			AssignedToUID:       assignedUID,
			AssignedToEmail:     assignedEmail,
			CalendarDescription: strings.TrimSpace(in.CalendarDescription),
			StartMail:           startCfg,
			CompletionMail:      compCfg,
			CreatedByUID:        actor.UID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}

		s.insertStartEvent(&task)

		if err := s.store.CreateTask(&task); err != nil {
			return created, fmt.Errorf("create occurrence %d: %w", slot.Index, err)
		}

		action := "TASK_CREATED"
		if seriesID != "" {
			action = "SERIES_TASK_CREATED"
		}
		s.audit.Record(s.actorOf(actor), action, task.ID, map[string]string{
			"seriesId":        seriesID,
			"occurrenceIndex": fmt.Sprintf("%d", slot.Index),
			"dueDateYmd":      slot.DueDateYmd,
			"startDateYmd":    slot.StartDateYmd,
		})
		created = append(created, task)
	}
	return created, nil
}

// insertStartEvent mirrors a task onto the calendar. The calendar is a
// mirror, not the source of truth, so a provider failure is logged and the
// task is created without an event id.
func (s *Service) insertStartEvent(task *models.Task) {
	ev, err := s.cal.Insert(calendar.StartEventInput(
		task.Title, task.ClientName, task.ClientID,
		task.StartDateYmd, task.DueDateYmd, task.CalendarDescription,
	))
	if err != nil {
		log.Printf("compliance: calendar insert failed for %q: %v", task.Title, err)
		return
	}
	task.CalendarEventID = ev.ID
	task.CalendarHTMLLink = ev.HTMLLink
}

// AppendInput extends an existing series.
type AppendInput struct {
	SeriesID        string `json:"series_id"`
	AddCount        int    `json:"add_count"`
	AssignedToEmail string `json:"assigned_to_email"`
}

// AppendResult reports an append.
type AppendResult struct {
	Created  int `json:"created"`
	NewTotal int `json:"new_total"`
}

// AppendToSeries adds occurrences after the highest existing index,
// continuing the cadence from occurrence #1, and rewrites every sibling's
// total.
func (s *Service) AppendToSeries(actor auth.Identity, in AppendInput) (*AppendResult, error) {
	if !actor.Privileged() {
		return nil, fmt.Errorf("%w: partner or manager only", ErrForbidden)
	}
	if in.SeriesID == "" {
		return nil, fmt.Errorf("%w: series_id required", ErrInvalidInput)
	}
	addCount := in.AddCount
	if addCount < 1 {
		addCount = 1
	}

	existing, err := s.store.TasksBySeries(in.SeriesID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("%w: series %s", ErrNotFound, in.SeriesID)
	}

	template := existing[0]
	for _, t := range existing {
		if t.OccurrenceIndex == 1 {
			template = t
			break
		}
	}

	plan, err := series.Append(existing, template.Recur, template.TriggerDaysBefore, addCount)
	if err != nil {
		return nil, fmt.Errorf("append to series: %w", err)
	}

	assignedEmail := template.AssignedToEmail
	assignedUID := template.AssignedToUID
	if in.AssignedToEmail != "" {
		assignedEmail, assignedUID = s.resolveAssignee(in.AssignedToEmail, actor)
	}

	now := s.now().UTC()
	created := 0
	for _, slot := range plan.Slots {
		task := template
		task.ID = ""
		task.OccurrenceIndex = slot.Index
		task.OccurrenceTotal = plan.Total
		task.DueDateYmd = slot.DueDateYmd
		task.StartDateYmd = slot.StartDateYmd
		task.Status = models.StatusPending
		task.StatusNote = ""
		task.DelayReason = ""
		task.DelayNotes = ""
		task.SnoozedUntilYmd = ""
		task.AssignedToEmail = assignedEmail
		task.AssignedToUID = assignedUID
		task.CalendarEventID = ""
		task.CalendarHTMLLink = ""
		task.StartMailSent = false
		task.StartMailSentAt = nil
		task.StartThread = models.ThreadRef{}
		task.Attachments = nil
		task.CreatedAt = now
		task.UpdatedAt = now
		task.CompletedRequestedAt = nil
		task.CompletedAt = nil

		s.insertStartEvent(&task)

		if err := s.store.CreateTask(&task); err != nil {
			return nil, fmt.Errorf("append occurrence %d: %w", slot.Index, err)
		}
		s.audit.Record(s.actorOf(actor), "SERIES_APPEND_CREATED", task.ID, map[string]string{
			"seriesId":        in.SeriesID,
			"occurrenceIndex": fmt.Sprintf("%d", slot.Index),
			"dueDateYmd":      slot.DueDateYmd,
			"startDateYmd":    slot.StartDateYmd,
		})
		created++
	}

	if err := s.store.SetSeriesTotal(in.SeriesID, plan.Total, now); err != nil {
		return nil, err
	}
	return &AppendResult{Created: created, NewTotal: plan.Total}, nil
}

// GetTask loads one task. Associates see only their own.
func (s *Service) GetTask(actor auth.Identity, id string) (*models.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if !actor.Privileged() && task.AssignedToUID != actor.UID {
		return nil, fmt.Errorf("%w: task %s", ErrForbidden, id)
	}
	return task, nil
}

// ListFilter narrows ListTasks.
type ListFilter struct {
	Status        string
	AssignedToUID string
	ClientID      string
}

// ListTasks lists tasks. Associates are pinned to their own tasks no
// matter what filter they send.
func (s *Service) ListTasks(actor auth.Identity, f ListFilter) ([]models.Task, error) {
	sf := store.TaskFilter{
		Status:        models.TaskStatus(strings.ToUpper(strings.TrimSpace(f.Status))),
		AssignedToUID: f.AssignedToUID,
		ClientID:      f.ClientID,
	}
	if !actor.Privileged() {
		sf.AssignedToUID = actor.UID
	}
	tasks, err := s.store.ListTasks(sf)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

// AuditTrail returns the audit entries for a task the actor may see.
func (s *Service) AuditTrail(actor auth.Identity, taskID string) ([]models.AuditEntry, error) {
	if _, err := s.GetTask(actor, taskID); err != nil {
		return nil, err
	}
	return s.store.AuditForTask(taskID)
}

// getOrCreateClient resolves a client by id, then by exact name, creating
// it when unknown. A provided email fills a blank primary address but
// never overwrites one.
func (s *Service) getOrCreateClient(id, name, email string) (*models.Client, error) {
	email = strings.TrimSpace(email)
	if id != "" {
		c, err := s.store.GetClient(id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("%w: client %s", ErrNotFound, id)
		}
		if email != "" && c.PrimaryEmail == "" {
			c.PrimaryEmail = email
			if err := s.store.UpdateClient(c); err != nil {
				return nil, err
			}
		}
		return c, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: client_id or client_name required", ErrInvalidInput)
	}
	c, err := s.store.FindClientByName(name)
	if err != nil {
		return nil, err
	}
	if c != nil {
		if email != "" && c.PrimaryEmail == "" {
			c.PrimaryEmail = email
			if err := s.store.UpdateClient(c); err != nil {
				return nil, err
			}
		}
		return c, nil
	}
	return s.store.CreateClient(name, email)
}

// resolveAssignee maps an email to a known user, falling back to the actor
// when the address is blank or unknown.
func (s *Service) resolveAssignee(email string, actor auth.Identity) (string, string) {
	email = strings.TrimSpace(email)
	if email == "" {
		return actor.Email, actor.UID
	}
	u, err := s.store.FindUserByEmail(email)
	if err != nil || u == nil {
		return email, actor.UID
	}
	return u.Email, u.ID
}

// managerEmailFor looks up the configured manager of an assignee. Missing
// users or managers simply mean no manager copy.
func (s *Service) managerEmailFor(assignedToUID string) string {
	if assignedToUID == "" {
		return ""
	}
	u, err := s.store.GetUser(assignedToUID)
	if err != nil || u == nil {
		return ""
	}
	return u.ManagerEmail
}

func normalizeCategory(x string) string {
	raw := strings.TrimSpace(x)
	u := strings.ReplaceAll(strings.ToUpper(raw), " ", "_")
	switch u {
	case "ITR", "INCOME_TAX":
		return "INCOME_TAX"
	case "GST", "TDS", "ROC", "ACCOUNTING", "AUDIT":
		return u
	}
	return "OTHER"
}

func normalizeType(x string) string {
	t := strings.ToUpper(strings.TrimSpace(x))
	if t == "" {
		return "FILING"
	}
	return t
}
