package compliance

import (
	"fmt"
	"log"
	"strings"

	"github.com/firmdesk/firmdesk/internal/audit"
	"github.com/firmdesk/firmdesk/internal/auth"
	"github.com/firmdesk/firmdesk/internal/calendar"
	"github.com/firmdesk/firmdesk/internal/dates"
	"github.com/firmdesk/firmdesk/internal/mail"
	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/firmdesk/firmdesk/internal/recipients"
)

// StatusInput carries a transition request. Note and delay fields only
// change when present.
type StatusInput struct {
	NewStatus   string  `json:"new_status"`
	StatusNote  *string `json:"status_note"`
	DelayReason *string `json:"delay_reason"`
	DelayNotes  *string `json:"delay_notes"`
}

// UpdateStatus moves a task to a new state. Any state may transition to
// any other; APPROVAL_PENDING and COMPLETED stamp their timestamps, and
// COMPLETED additionally patches the calendar mirror and sends the client
// completion mail threaded onto the start conversation.
func (s *Service) UpdateStatus(actor auth.Identity, taskID string, in StatusInput) (*models.Task, error) {
	newStatus := models.TaskStatus(strings.ToUpper(strings.TrimSpace(in.NewStatus)))
	if !models.ValidStatus(newStatus) {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, in.NewStatus)
	}

	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if !actor.Privileged() && task.AssignedToUID != actor.UID {
		return nil, fmt.Errorf("%w: task %s", ErrForbidden, taskID)
	}

	from := task.Status
	now := s.now().UTC()

	task.Status = newStatus
	task.UpdatedAt = now
	if in.StatusNote != nil {
		task.StatusNote = *in.StatusNote
	}
	if in.DelayReason != nil {
		task.DelayReason = *in.DelayReason
	}
	if in.DelayNotes != nil {
		task.DelayNotes = *in.DelayNotes
	}
	if newStatus == models.StatusApprovalPending {
		task.CompletedRequestedAt = &now
	}
	if newStatus == models.StatusCompleted {
		task.CompletedAt = &now
	}

	if err := s.store.SaveTask(task); err != nil {
		return nil, err
	}

	s.audit.Record(s.actorOf(actor), "STATUS_CHANGE", task.ID, map[string]string{
		"from":       string(from),
		"to":         string(newStatus),
		"statusNote": task.StatusNote,
	})

	if newStatus == models.StatusCompleted {
		s.onCompleted(task)
	}
	return task, nil
}

// onCompleted runs the completion side effects. Both are best-effort: the
// status change has already been persisted and is never rolled back.
func (s *Service) onCompleted(task *models.Task) {
	if task.CalendarEventID != "" {
		in := calendar.CompletedEventInput(
			task.Title, task.ClientName, task.ClientID,
			task.StartDateYmd, task.DueDateYmd, task.CalendarDescription,
		)
		in.WhenYmd = task.StartDateYmd
		if err := s.cal.Patch(task.CalendarEventID, in); err != nil {
			log.Printf("compliance: calendar patch failed for task %s: %v", task.ID, err)
		}
	}

	if !task.CompletionMail.Enabled {
		return
	}

	client, err := s.store.GetClient(task.ClientID)
	if err != nil || client == nil {
		log.Printf("compliance: no client %s for completion mail of task %s", task.ClientID, task.ID)
		return
	}

	managerEmail := s.managerEmailFor(task.AssignedToUID)
	rec := recipients.ResolveCompletion(*client, *task, managerEmail)
	if len(rec.To) == 0 {
		return
	}

	vars := map[string]string{
		"clientName":  client.Name,
		"taskTitle":   task.Title,
		"startDate":   dates.DisplayYmd(task.StartDateYmd),
		"dueDate":     dates.DisplayYmd(task.DueDateYmd),
		"completedAt": s.now().In(s.zone).Format("02-01-2006 15:04"),
		"statusNote":  task.StatusNote,
	}

	subjectTpl := task.CompletionMail.Subject
	if subjectTpl == "" {
		subjectTpl = "Completed: {{taskTitle}}"
	}
	bodyTpl := task.CompletionMail.Body
	if bodyTpl == "" {
		bodyTpl = "Dear {{clientName}},\n\n" +
			"We have completed: {{taskTitle}}\n" +
			"Due date: {{dueDate}}\n" +
			"Completed at: {{completedAt}}\n" +
			"Status note: {{statusNote}}\n\n" +
			"Regards,\n" + s.signature
	}

	msg := mail.Message{
		To:      rec.To,
		Cc:      rec.Cc,
		Bcc:     rec.Bcc,
		Subject: mail.RenderTemplate(subjectTpl, vars),
		Body:    mail.RenderTemplate(bodyTpl, vars),
	}

	var res *mail.SendResult
	if !task.StartThread.Empty() {
		res, err = s.mailer.SendReply(mail.Reply{
			Message:    msg,
			ThreadID:   task.StartThread.ThreadID,
			InReplyTo:  task.StartThread.RFCMessageID,
			References: task.StartThread.References,
		})
	} else {
		res, err = s.mailer.Send(msg)
	}
	if err != nil {
		log.Printf("compliance: completion mail failed for task %s: %v", task.ID, err)
		return
	}
	if res == nil {
		return
	}

	// System mail carries no actor.
	s.audit.Record(audit.Actor{}, "EMAIL_SENT", task.ID, map[string]string{
		"type":                 "CLIENT_COMPLETION",
		"repliedToStartThread": fmt.Sprintf("%t", !task.StartThread.Empty()),
		"to":                   strings.Join(rec.To, ","),
		"cc":                   strings.Join(rec.Cc, ","),
		"bcc":                  strings.Join(rec.Bcc, ","),
	})
}
