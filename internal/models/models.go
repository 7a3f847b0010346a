// Package models defines the core domain types for firmdesk.
package models

import (
	"strings"
	"time"
)

// TaskStatus represents the current lifecycle state of an occurrence.
type TaskStatus string

const (
	StatusPending         TaskStatus = "PENDING"
	StatusInProgress      TaskStatus = "IN_PROGRESS"
	StatusClientPending   TaskStatus = "CLIENT_PENDING"
	StatusApprovalPending TaskStatus = "APPROVAL_PENDING"
	StatusCompleted       TaskStatus = "COMPLETED"
)

// ValidStatus reports whether s is a member of the allowed status set.
func ValidStatus(s TaskStatus) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusClientPending, StatusApprovalPending, StatusCompleted:
		return true
	}
	return false
}

// ActiveStatuses is every non-completed state, used by the reconciliation
// passes and the digest.
var ActiveStatuses = []TaskStatus{
	StatusPending, StatusInProgress, StatusClientPending, StatusApprovalPending,
}

// Recurrence is the unit a series advances by between occurrences.
type Recurrence string

const (
	RecurAdHoc      Recurrence = "AD_HOC"
	RecurDaily      Recurrence = "DAILY"
	RecurWeekly     Recurrence = "WEEKLY"
	RecurBiweekly   Recurrence = "BIWEEKLY"
	RecurMonthly    Recurrence = "MONTHLY"
	RecurBimonthly  Recurrence = "BIMONTHLY"
	RecurQuarterly  Recurrence = "QUARTERLY"
	RecurHalfYearly Recurrence = "HALF_YEARLY"
	RecurYearly     Recurrence = "YEARLY"
)

// NormalizeRecurrence folds arbitrary input to a known unit, defaulting to
// AD_HOC for anything unrecognized.
func NormalizeRecurrence(s string) Recurrence {
	switch Recurrence(strings.ToUpper(strings.TrimSpace(s))) {
	case RecurDaily, RecurWeekly, RecurBiweekly, RecurMonthly,
		RecurBimonthly, RecurQuarterly, RecurHalfYearly, RecurYearly:
		return Recurrence(strings.ToUpper(strings.TrimSpace(s)))
	}
	return RecurAdHoc
}

// Category buckets a task by the filing regime it belongs to.
type Category string

const (
	CategoryIncomeTax  Category = "INCOME_TAX"
	CategoryGST        Category = "GST"
	CategoryTDS        Category = "TDS"
	CategoryROC        Category = "ROC"
	CategoryAccounting Category = "ACCOUNTING"
	CategoryAudit      Category = "AUDIT"
	CategoryOther      Category = "OTHER"
)

// Priority of a task.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// NormalizePriority folds input to HIGH/MEDIUM/LOW, defaulting to MEDIUM.
func NormalizePriority(s string) Priority {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityHigh, PriorityLow:
		return Priority(strings.ToUpper(strings.TrimSpace(s)))
	}
	return PriorityMedium
}

// Client is the party a task is performed for.
type Client struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PrimaryEmail string    `json:"primary_email"`
	CcEmails     []string  `json:"cc_emails,omitempty"`
	BccEmails    []string  `json:"bcc_emails,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// User is a firm member who can be assigned tasks.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name,omitempty"`
	Role         string `json:"role"`
	ManagerEmail string `json:"manager_email,omitempty"`
	APIToken     string `json:"-"`
	Active       bool   `json:"active"`
}

// MailConfig is the per-track (start or completion) notification shape
// carried on every occurrence.
type MailConfig struct {
	Enabled    bool     `json:"enabled"`
	To         []string `json:"to,omitempty"`
	Cc         []string `json:"cc,omitempty"`
	Bcc        []string `json:"bcc,omitempty"`
	CcAssignee bool     `json:"cc_assignee,omitempty"`
	CcManager  bool     `json:"cc_manager,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body,omitempty"`
}

// ThreadRef records the provider identifiers of a sent start mail so a
// later completion mail can reply into the same conversation.
type ThreadRef struct {
	ThreadID     string `json:"thread_id,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	RFCMessageID string `json:"rfc_message_id,omitempty"`
	References   string `json:"references,omitempty"`
}

// Empty reports whether no thread has been recorded.
func (r ThreadRef) Empty() bool { return r.ThreadID == "" }

// Attachment is an external file linked to an occurrence. The list on a
// task is append-only.
type Attachment struct {
	Type       string    `json:"type"`
	Filename   string    `json:"filename"`
	FileID     string    `json:"file_id"`
	ViewLink   string    `json:"view_link,omitempty"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Task is one occurrence of work, possibly one of several generated from a
// recurring template. SeriesID is empty for standalone tasks.
type Task struct {
	ID              string `json:"id"`
	ClientID        string `json:"client_id"`
	ClientName      string `json:"client_name,omitempty"`
	SeriesID        string `json:"series_id,omitempty"`
	OccurrenceIndex int    `json:"occurrence_index"`
	OccurrenceTotal int    `json:"occurrence_total"`

	Title    string     `json:"title"`
	Category Category   `json:"category"`
	Type     string     `json:"type"`
	Priority Priority   `json:"priority"`
	Recur    Recurrence `json:"recurrence"`

	DueDateYmd        string `json:"due_date_ymd"`
	StartDateYmd      string `json:"start_date_ymd"`
	TriggerDaysBefore int    `json:"trigger_days_before"`

	Status          TaskStatus `json:"status"`
	StatusNote      string     `json:"status_note,omitempty"`
	DelayReason     string     `json:"delay_reason,omitempty"`
	DelayNotes      string     `json:"delay_notes,omitempty"`
	SnoozedUntilYmd string     `json:"snoozed_until_ymd,omitempty"`

	AssignedToUID   string `json:"assigned_to_uid"`
	AssignedToEmail string `json:"assigned_to_email"`

	CalendarEventID     string `json:"calendar_event_id,omitempty"`
	CalendarHTMLLink    string `json:"calendar_html_link,omitempty"`
	CalendarDescription string `json:"calendar_description,omitempty"`

	StartMail       MailConfig `json:"start_mail"`
	StartMailSent   bool       `json:"start_mail_sent"`
	StartMailSentAt *time.Time `json:"start_mail_sent_at,omitempty"`
	StartThread     ThreadRef  `json:"start_thread,omitempty"`

	CompletionMail MailConfig `json:"completion_mail"`

	Attachments []Attachment `json:"attachments,omitempty"`

	CreatedByUID         string     `json:"created_by_uid,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CompletedRequestedAt *time.Time `json:"completed_requested_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// AuditEntry is one append-only record of a state-changing operation.
type AuditEntry struct {
	ID         string            `json:"id"`
	TaskID     string            `json:"task_id,omitempty"`
	Action     string            `json:"action"`
	ActorUID   string            `json:"actor_uid,omitempty"`
	ActorEmail string            `json:"actor_email,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
