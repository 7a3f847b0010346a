// Package reconcile runs the daily pass that fires time-triggered side
// effects for active tasks: at-most-once start notifications on each
// task's start date, and the bucketed due-date digest for the firm and
// the assignees. The pass is idempotent per civil day via a persisted
// last-run marker, so an external scheduler may invoke it repeatedly.
package reconcile

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/firmdesk/firmdesk/internal/audit"
	"github.com/firmdesk/firmdesk/internal/calendar"
	"github.com/firmdesk/firmdesk/internal/dates"
	"github.com/firmdesk/firmdesk/internal/mail"
	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/firmdesk/firmdesk/internal/recipients"
	"github.com/firmdesk/firmdesk/internal/store"
	"github.com/natefinch/atomic"
)

// jobName keys the last-run marker in the store.
const jobName = "daily_reconciliation"

// ShouldRun decides whether the daily pass runs. It runs when forced or
// when the recorded last run is any day other than today.
func ShouldRun(lastRun, today string, force bool) bool {
	return force || lastRun != today
}

// Config carries the static settings the driver needs.
type Config struct {
	Window         calendar.Window
	TimeZone       string
	Signature      string
	DigestSubject  string
	FirmRecipients []string
	ReportDir      string
}

// Report is the aggregate outcome of one pass. The driver never fails on
// a single task; per-task problems land in the skip and failure counters.
type Report struct {
	Date    string `json:"date"`
	Skipped bool   `json:"skipped"`

	SentCount          int `json:"sent_count"`
	SkippedNoTemplate  int `json:"skipped_no_template"`
	SkippedNoClient    int `json:"skipped_no_client"`
	SkippedNoRecipient int `json:"skipped_no_recipient"`
	SendFailed         int `json:"send_failed"`

	RanDigest       bool   `json:"ran_digest"`
	DigestTaskCount int    `json:"digest_task_count"`
	SentToAssignees int    `json:"sent_to_assignees"`
	SentToFirm      int    `json:"sent_to_firm"`
	ReportPath      string `json:"report_path,omitempty"`
}

// startOutcome is the result of one start-notification attempt.
type startOutcome int

const (
	startSent startOutcome = iota
	startNoTemplate
	startNoClient
	startNoRecipient
	startFailed
)

// Driver owns one reconciliation pass over the store.
type Driver struct {
	store  *store.Store
	audit  *audit.Logger
	mailer mail.Mailer
	cfg    Config
	zone   *time.Location
	now    func() time.Time
}

// New creates a driver. A nil mailer degrades to the no-op sender.
func New(st *store.Store, auditLogger *audit.Logger, mailer mail.Mailer, cfg Config) *Driver {
	if mailer == nil {
		mailer = mail.Noop{}
	}
	zone, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		zone, _ = time.LoadLocation(dates.DefaultZone)
	}
	return &Driver{
		store:  st,
		audit:  auditLogger,
		mailer: mailer,
		cfg:    cfg,
		zone:   zone,
		now:    time.Now,
	}
}

// Run executes the daily pass for the current civil day in the firm zone.
func (d *Driver) Run(force bool) (*Report, error) {
	today := dates.FromTime(d.now(), d.zone)
	report := &Report{Date: today.String()}

	lastRun, err := d.store.GetJobMarker(jobName)
	if err != nil {
		return nil, fmt.Errorf("read job marker: %w", err)
	}
	if !ShouldRun(lastRun, today.String(), force) {
		report.Skipped = true
		return report, nil
	}

	d.runStartPass(today, report)
	d.runDigestPass(today, report)

	if err := d.store.SetJobMarker(jobName, today.String()); err != nil {
		return nil, fmt.Errorf("write job marker: %w", err)
	}
	return report, nil
}

// runStartPass sends the start notification for every active task whose
// start date is today and whose mail has not gone out yet. Each task is
// an independent attempt; the outcome feeds a counter and nothing more.
func (d *Driver) runStartPass(today dates.Civil, report *Report) {
	tasks, err := d.store.TasksStartingOn(today.String())
	if err != nil {
		log.Printf("reconcile: start pass query failed: %v", err)
		report.SendFailed++
		return
	}

	active := make(map[models.TaskStatus]bool, len(models.ActiveStatuses))
	for _, s := range models.ActiveStatuses {
		active[s] = true
	}

	for i := range tasks {
		t := &tasks[i]
		if !active[t.Status] {
			continue
		}
		switch d.sendStartMail(t) {
		case startSent:
			report.SentCount++
		case startNoTemplate:
			report.SkippedNoTemplate++
		case startNoClient:
			report.SkippedNoClient++
		case startNoRecipient:
			report.SkippedNoRecipient++
		case startFailed:
			report.SendFailed++
		}
	}
}

func (d *Driver) sendStartMail(t *models.Task) startOutcome {
	if t.StartMail.Subject == "" && t.StartMail.Body == "" {
		return startNoTemplate
	}
	if t.ClientID == "" {
		return startNoClient
	}
	client, err := d.store.GetClient(t.ClientID)
	if err != nil || client == nil {
		return startNoClient
	}

	rec := recipients.ResolveStart(*client, *t, d.managerEmailFor(t.AssignedToUID))
	if len(rec.To) == 0 {
		return startNoRecipient
	}

	addToCalendarURL := calendar.TemplateURL(
		"START: "+t.Title, t.StartDateYmd, d.cfg.Window,
		"Client: "+client.Name+"\n"+
			"Task: "+t.Title+"\n"+
			"Start: "+dates.DisplayYmd(t.StartDateYmd)+"\n"+
			"Due: "+dates.DisplayYmd(t.DueDateYmd)+"\n",
	)

	vars := map[string]string{
		"clientName":       client.Name,
		"taskTitle":        t.Title,
		"startDate":        dates.DisplayYmd(t.StartDateYmd),
		"dueDate":          dates.DisplayYmd(t.DueDateYmd),
		"addToCalendarUrl": addToCalendarURL,
	}

	subjectTpl := t.StartMail.Subject
	if subjectTpl == "" {
		subjectTpl = "We started {{taskTitle}}"
	}
	bodyTpl := t.StartMail.Body
	if bodyTpl == "" {
		bodyTpl = "Dear {{clientName}},\n\n" +
			"We started work on {{taskTitle}}.\n" +
			"Due: {{dueDate}}\n\n" +
			"Regards,\n" + d.cfg.Signature
	}

	body := mail.RenderTemplate(bodyTpl, vars) +
		"\n\n---\nAdd to your Google Calendar:\n" + addToCalendarURL

	res, err := d.mailer.Send(mail.Message{
		To:      rec.To,
		Cc:      rec.Cc,
		Bcc:     rec.Bcc,
		Subject: mail.RenderTemplate(subjectTpl, vars),
		Body:    body,
	})
	if err != nil {
		log.Printf("reconcile: start mail failed for task %s: %v", t.ID, err)
		return startFailed
	}

	var thread models.ThreadRef
	if res != nil {
		thread = models.ThreadRef{
			ThreadID:     res.ThreadID,
			MessageID:    res.MessageID,
			RFCMessageID: res.RFCMessageID,
			References:   res.References,
		}
	}
	if err := d.store.MarkStartMailSent(t.ID, d.now().UTC(), thread); err != nil {
		log.Printf("reconcile: could not record start mail for task %s: %v", t.ID, err)
		return startFailed
	}

	d.audit.Record(audit.Actor{}, "EMAIL_SENT", t.ID, map[string]string{
		"type":             "CLIENT_START",
		"to":               strings.Join(rec.To, ","),
		"cc":               strings.Join(rec.Cc, ","),
		"bcc":              strings.Join(rec.Bcc, ","),
		"addToCalendarUrl": addToCalendarURL,
	})
	return startSent
}

// runDigestPass mails the bucketed due-date summary to each assignee and
// to the firm recipients, and writes the rendered HTML to the report dir.
func (d *Driver) runDigestPass(today dates.Civil, report *Report) {
	endYmd := today.AddDays(digestWindowDays).String()
	tasks, err := d.store.ActiveTasksDueThrough(endYmd)
	if err != nil {
		log.Printf("reconcile: digest query failed: %v", err)
		return
	}

	digest := GroupDigest(tasks, today)
	report.RanDigest = true
	report.DigestTaskCount = digest.TaskCount()

	subject := mail.RenderTemplate(d.cfg.DigestSubject, map[string]string{"date": today.Display()})

	byAssignee := make(map[string][]models.Task)
	var order []string
	for _, t := range tasks {
		email := strings.TrimSpace(t.AssignedToEmail)
		if email == "" {
			continue
		}
		if _, ok := byAssignee[email]; !ok {
			order = append(order, email)
		}
		byAssignee[email] = append(byAssignee[email], t)
	}

	for _, email := range order {
		body := RenderHTML(GroupDigest(byAssignee[email], today), today)
		if _, err := d.mailer.Send(mail.Message{To: []string{email}, Subject: subject, Body: body}); err != nil {
			log.Printf("reconcile: digest mail to %s failed: %v", email, err)
			continue
		}
		report.SentToAssignees++
	}

	firmBody := RenderHTML(digest, today)
	if firm := recipients.Merge(d.cfg.FirmRecipients); len(firm) > 0 {
		if _, err := d.mailer.Send(mail.Message{To: firm, Subject: "Firm " + subject, Body: firmBody}); err != nil {
			log.Printf("reconcile: firm digest mail failed: %v", err)
		} else {
			report.SentToFirm = len(firm)
		}
	}

	if d.cfg.ReportDir != "" {
		path := filepath.Join(d.cfg.ReportDir, "digest-"+today.String()+".html")
		if err := os.MkdirAll(d.cfg.ReportDir, 0o755); err != nil {
			log.Printf("reconcile: report dir: %v", err)
		} else if err := atomic.WriteFile(path, strings.NewReader(firmBody)); err != nil {
			log.Printf("reconcile: report write: %v", err)
		} else {
			report.ReportPath = path
		}
	}
}

func (d *Driver) managerEmailFor(uid string) string {
	if uid == "" {
		return ""
	}
	u, err := d.store.GetUser(uid)
	if err != nil || u == nil {
		return ""
	}
	return u.ManagerEmail
}
