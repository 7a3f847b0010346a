package compliance

import (
	"fmt"
	"log"
	"strings"

	"github.com/firmdesk/firmdesk/internal/auth"
	"github.com/firmdesk/firmdesk/internal/dates"
	"github.com/firmdesk/firmdesk/internal/models"
)

// maxBulkIDs caps one bulk request.
const maxBulkIDs = 2000

// Bulk operations.
const (
	BulkStatus   = "STATUS"
	BulkReassign = "REASSIGN"
	BulkSnooze   = "SNOOZE"
	BulkDelete   = "DELETE"
)

// BulkInput is one bulk request. Only the fields for the chosen op are
// read.
type BulkInput struct {
	Op      string   `json:"op"`
	TaskIDs []string `json:"task_ids"`

	NewStatus       string `json:"new_status"`
	AssignedToEmail string `json:"assigned_to_email"`
	SnoozedUntilYmd string `json:"snoozed_until_ymd"`
}

// BulkReport reconciles what was asked against what happened. Requested
// counts ids sent; Found counts ids that resolved to live tasks; unknown
// ids are dropped silently.
type BulkReport struct {
	Op           string `json:"op"`
	Requested    int    `json:"requested"`
	Found        int    `json:"found"`
	UpdatedCount int    `json:"updated_count"`
	DeletedCount int    `json:"deleted_count"`
}

// BulkUpdate applies one operation to up to 2000 tasks. Associates may
// only touch tasks assigned to them, and one foreign task rejects the
// whole request. Reassignment is privileged regardless of ownership.
func (s *Service) BulkUpdate(actor auth.Identity, in BulkInput) (*BulkReport, error) {
	op := strings.ToUpper(strings.TrimSpace(in.Op))
	ids := cleanIDs(in.TaskIDs)

	if op == "" {
		return nil, fmt.Errorf("%w: op required", ErrInvalidInput)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: task_ids required", ErrInvalidInput)
	}
	if len(ids) > maxBulkIDs {
		return nil, ErrTooManyTasks
	}

	tasks, err := s.store.TasksByIDs(ids)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks found", ErrNotFound)
	}

	if !actor.Privileged() {
		for _, t := range tasks {
			if t.AssignedToUID != actor.UID {
				return nil, fmt.Errorf("%w: some selected tasks are not assigned to you", ErrForbidden)
			}
		}
	}

	report := &BulkReport{Op: op, Requested: len(ids), Found: len(tasks)}
	now := s.now().UTC()

	foundIDs := make([]string, len(tasks))
	for i, t := range tasks {
		foundIDs[i] = t.ID
	}

	switch op {
	case BulkStatus:
		newStatus := models.TaskStatus(strings.ToUpper(strings.TrimSpace(in.NewStatus)))
		if !models.ValidStatus(newStatus) {
			return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, in.NewStatus)
		}
		n, err := s.store.BulkSetStatus(foundIDs, newStatus, now)
		report.UpdatedCount = n
		if err != nil {
			return report, err
		}
		s.auditBulk(actor, "BULK_STATUS_CHANGE", foundIDs, map[string]string{"op": op, "to": string(newStatus)})

	case BulkReassign:
		if !actor.Privileged() {
			return nil, fmt.Errorf("%w: only partner or manager can reassign", ErrForbidden)
		}
		email := strings.TrimSpace(in.AssignedToEmail)
		if email == "" {
			return nil, fmt.Errorf("%w: assigned_to_email required", ErrInvalidInput)
		}
		u, err := s.store.FindUserByEmail(email)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, fmt.Errorf("%w: no user with email %s", ErrInvalidInput, email)
		}
		n, err := s.store.BulkReassign(foundIDs, u.Email, u.ID, now)
		report.UpdatedCount = n
		if err != nil {
			return report, err
		}
		s.auditBulk(actor, "BULK_REASSIGN", foundIDs, map[string]string{"op": op, "assignedToEmail": u.Email})

	case BulkSnooze:
		if _, err := dates.ParseYmd(in.SnoozedUntilYmd); err != nil {
			return nil, fmt.Errorf("%w: snoozed_until_ymd: %v", ErrInvalidInput, err)
		}
		n, err := s.store.BulkSnooze(foundIDs, in.SnoozedUntilYmd, now)
		report.UpdatedCount = n
		if err != nil {
			return report, err
		}
		s.auditBulk(actor, "BULK_SNOOZE", foundIDs, map[string]string{"op": op, "snoozedUntilYmd": in.SnoozedUntilYmd})

	case BulkDelete:
		for _, t := range tasks {
			if t.CalendarEventID != "" {
				if err := s.cal.Delete(t.CalendarEventID); err != nil {
					log.Printf("compliance: calendar delete failed for task %s: %v", t.ID, err)
				}
			}
			if err := s.store.DeleteTask(t.ID); err != nil {
				continue
			}
			s.audit.Record(s.actorOf(actor), "TASK_DELETED_BULK", t.ID, map[string]string{"op": op})
			report.DeletedCount++
		}

	default:
		return nil, fmt.Errorf("%w: op %q", ErrInvalidInput, in.Op)
	}

	return report, nil
}

func (s *Service) auditBulk(actor auth.Identity, action string, ids []string, details map[string]string) {
	for _, id := range ids {
		s.audit.Record(s.actorOf(actor), action, id, details)
	}
}

func cleanIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
