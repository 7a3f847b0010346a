// Package store provides SQLite-backed persistence for firmdesk.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// batchSize caps the rows touched per transaction, mirroring the backing
// store's documented multi-document write limit.
const batchSize = 350

// ErrNotFound indicates the referenced row does not exist.
var ErrNotFound = fmt.Errorf("not found")

// Store provides access to the firmdesk SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		primary_email TEXT NOT NULL DEFAULT '',
		cc_emails TEXT NOT NULL DEFAULT '[]',
		bcc_emails TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		email_lower TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'ASSOCIATE',
		manager_email TEXT NOT NULL DEFAULT '',
		api_token TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		client_name TEXT NOT NULL DEFAULT '',
		series_id TEXT,
		occurrence_index INTEGER NOT NULL DEFAULT 0,
		occurrence_total INTEGER NOT NULL DEFAULT 1,
		title TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'OTHER',
		type TEXT NOT NULL DEFAULT 'FILING',
		priority TEXT NOT NULL DEFAULT 'MEDIUM',
		recurrence TEXT NOT NULL DEFAULT 'AD_HOC',
		due_date_ymd TEXT NOT NULL,
		start_date_ymd TEXT NOT NULL,
		trigger_days_before INTEGER NOT NULL DEFAULT 15,
		status TEXT NOT NULL DEFAULT 'PENDING',
		status_note TEXT NOT NULL DEFAULT '',
		delay_reason TEXT,
		delay_notes TEXT NOT NULL DEFAULT '',
		snoozed_until_ymd TEXT,
		assigned_to_uid TEXT NOT NULL DEFAULT '',
		assigned_to_email TEXT NOT NULL DEFAULT '',
		calendar_event_id TEXT,
		calendar_html_link TEXT NOT NULL DEFAULT '',
		calendar_description TEXT NOT NULL DEFAULT '',
		start_mail_cfg TEXT NOT NULL DEFAULT '{}',
		start_mail_sent INTEGER NOT NULL DEFAULT 0,
		start_mail_sent_at DATETIME,
		start_thread TEXT NOT NULL DEFAULT '{}',
		completion_mail_cfg TEXT NOT NULL DEFAULT '{}',
		attachments TEXT NOT NULL DEFAULT '[]',
		created_by_uid TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_requested_at DATETIME,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		task_id TEXT,
		action TEXT NOT NULL,
		actor_uid TEXT,
		actor_email TEXT,
		details TEXT NOT NULL DEFAULT '{}',
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS job_markers (
		job_name TEXT PRIMARY KEY,
		last_run_ymd TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_series_id ON tasks(series_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date_ymd);
	CREATE INDEX IF NOT EXISTS idx_tasks_start_date ON tasks(start_date_ymd);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assigned_to_uid);
	CREATE INDEX IF NOT EXISTS idx_audit_task_id ON audit_log(task_id);
	CREATE INDEX IF NOT EXISTS idx_users_email_lower ON users(email_lower);
	CREATE INDEX IF NOT EXISTS idx_clients_name ON clients(name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Client Operations ---

// CreateClient inserts a new client.
func (s *Store) CreateClient(name, primaryEmail string) (*models.Client, error) {
	now := time.Now().UTC()
	c := &models.Client{
		ID:           uuid.New().String(),
		Name:         name,
		PrimaryEmail: primaryEmail,
		CreatedAt:    now,
	}
	_, err := s.db.Exec(
		`INSERT INTO clients (id, name, primary_email, cc_emails, bcc_emails, created_at) VALUES (?, ?, ?, '[]', '[]', ?)`,
		c.ID, c.Name, c.PrimaryEmail, c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert client: %w", err)
	}
	return c, nil
}

func scanClient(row interface{ Scan(...any) error }) (*models.Client, error) {
	c := &models.Client{}
	var cc, bcc string
	err := row.Scan(&c.ID, &c.Name, &c.PrimaryEmail, &cc, &bcc, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(cc), &c.CcEmails)
	json.Unmarshal([]byte(bcc), &c.BccEmails)
	return c, nil
}

// GetClient retrieves a client by ID. Returns nil when absent.
func (s *Store) GetClient(id string) (*models.Client, error) {
	row := s.db.QueryRow(
		`SELECT id, name, primary_email, cc_emails, bcc_emails, created_at FROM clients WHERE id = ?`, id,
	)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query client: %w", err)
	}
	return c, nil
}

// FindClientByName retrieves a client by exact name. Returns nil when absent.
func (s *Store) FindClientByName(name string) (*models.Client, error) {
	row := s.db.QueryRow(
		`SELECT id, name, primary_email, cc_emails, bcc_emails, created_at FROM clients WHERE name = ? LIMIT 1`, name,
	)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query client by name: %w", err)
	}
	return c, nil
}

// UpdateClient replaces the mutable client fields.
func (s *Store) UpdateClient(c *models.Client) error {
	cc, _ := json.Marshal(emptyIfNil(c.CcEmails))
	bcc, _ := json.Marshal(emptyIfNil(c.BccEmails))
	res, err := s.db.Exec(
		`UPDATE clients SET name = ?, primary_email = ?, cc_emails = ?, bcc_emails = ? WHERE id = ?`,
		c.Name, c.PrimaryEmail, string(cc), string(bcc), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- User Operations ---

// CreateUser inserts a firm member.
func (s *Store) CreateUser(u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, email_lower, display_name, role, manager_email, api_token, active) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, strings.ToLower(u.Email), u.DisplayName, u.Role, u.ManagerEmail, u.APIToken, boolToInt(u.Active),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userCols = `id, email, display_name, role, manager_email, api_token, active`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var active int
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.ManagerEmail, &u.APIToken, &active)
	if err != nil {
		return nil, err
	}
	u.Active = active != 0
	return u, nil
}

// GetUser retrieves a user by ID. Returns nil when absent.
func (s *Store) GetUser(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// FindUserByEmail retrieves a user by address, matching case-insensitively.
func (s *Store) FindUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(
		`SELECT `+userCols+` FROM users WHERE email_lower = ? LIMIT 1`,
		strings.ToLower(strings.TrimSpace(email)),
	)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return u, nil
}

// FindUserByToken retrieves a user by API token. Returns nil when absent.
func (s *Store) FindUserByToken(token string) (*models.User, error) {
	if token == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE api_token = ? LIMIT 1`, token)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user by token: %w", err)
	}
	return u, nil
}

// ListUsers returns every firm member ordered by address.
func (s *Store) ListUsers() ([]models.User, error) {
	rows, err := s.db.Query(`SELECT ` + userCols + ` FROM users ORDER BY email_lower`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// --- Task Operations ---

const taskCols = `id, client_id, client_name, series_id, occurrence_index, occurrence_total,
	title, category, type, priority, recurrence,
	due_date_ymd, start_date_ymd, trigger_days_before,
	status, status_note, delay_reason, delay_notes, snoozed_until_ymd,
	assigned_to_uid, assigned_to_email,
	calendar_event_id, calendar_html_link, calendar_description,
	start_mail_cfg, start_mail_sent, start_mail_sent_at, start_thread,
	completion_mail_cfg, attachments,
	created_by_uid, created_at, updated_at, completed_requested_at, completed_at`

func taskArgs(t *models.Task) []any {
	startCfg, _ := json.Marshal(t.StartMail)
	compCfg, _ := json.Marshal(t.CompletionMail)
	thread, _ := json.Marshal(t.StartThread)
	atts, _ := json.Marshal(emptyAttachments(t.Attachments))
	return []any{
		t.ID, t.ClientID, t.ClientName, nullString(t.SeriesID), t.OccurrenceIndex, t.OccurrenceTotal,
		t.Title, string(t.Category), t.Type, string(t.Priority), string(t.Recur),
		t.DueDateYmd, t.StartDateYmd, t.TriggerDaysBefore,
		string(t.Status), t.StatusNote, nullString(t.DelayReason), t.DelayNotes, nullString(t.SnoozedUntilYmd),
		t.AssignedToUID, t.AssignedToEmail,
		nullString(t.CalendarEventID), t.CalendarHTMLLink, t.CalendarDescription,
		string(startCfg), boolToInt(t.StartMailSent), nullTime(t.StartMailSentAt), string(thread),
		string(compCfg), string(atts),
		t.CreatedByUID, t.CreatedAt, t.UpdatedAt, nullTime(t.CompletedRequestedAt), nullTime(t.CompletedAt),
	}
}

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	var (
		seriesID, delayReason, snoozed, calEventID sql.NullString
		startSent                                  int
		startSentAt, reqAt, compAt                 sql.NullTime
		startCfg, compCfg, thread, atts            string
		category, priority, recur, status          string
	)
	err := row.Scan(
		&t.ID, &t.ClientID, &t.ClientName, &seriesID, &t.OccurrenceIndex, &t.OccurrenceTotal,
		&t.Title, &category, &t.Type, &priority, &recur,
		&t.DueDateYmd, &t.StartDateYmd, &t.TriggerDaysBefore,
		&status, &t.StatusNote, &delayReason, &t.DelayNotes, &snoozed,
		&t.AssignedToUID, &t.AssignedToEmail,
		&calEventID, &t.CalendarHTMLLink, &t.CalendarDescription,
		&startCfg, &startSent, &startSentAt, &thread,
		&compCfg, &atts,
		&t.CreatedByUID, &t.CreatedAt, &t.UpdatedAt, &reqAt, &compAt,
	)
	if err != nil {
		return nil, err
	}
	t.Category = models.Category(category)
	t.Priority = models.Priority(priority)
	t.Recur = models.Recurrence(recur)
	t.Status = models.TaskStatus(status)
	t.SeriesID = seriesID.String
	t.DelayReason = delayReason.String
	t.SnoozedUntilYmd = snoozed.String
	t.CalendarEventID = calEventID.String
	t.StartMailSent = startSent != 0
	if startSentAt.Valid {
		t.StartMailSentAt = &startSentAt.Time
	}
	if reqAt.Valid {
		t.CompletedRequestedAt = &reqAt.Time
	}
	if compAt.Valid {
		t.CompletedAt = &compAt.Time
	}
	json.Unmarshal([]byte(startCfg), &t.StartMail)
	json.Unmarshal([]byte(compCfg), &t.CompletionMail)
	json.Unmarshal([]byte(thread), &t.StartThread)
	json.Unmarshal([]byte(atts), &t.Attachments)
	return t, nil
}

var taskPlaceholders = "?" + strings.Repeat(", ?", strings.Count(taskCols, ","))

// taskSetClause renders "col = ?" pairs for every column except id, so
// SaveTask stays in lockstep with taskCols.
var taskSetClause = func() string {
	cols := strings.Split(taskCols, ",")
	parts := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		parts = append(parts, strings.TrimSpace(c)+" = ?")
	}
	return strings.Join(parts, ", ")
}()

// CreateTask inserts a fully-populated task row.
func (s *Store) CreateTask(t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	query := `INSERT INTO tasks (` + taskCols + `) VALUES (` + taskPlaceholders + `)`
	if _, err := s.db.Exec(query, taskArgs(t)...); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// SaveTask replaces every mutable column of an existing task.
func (s *Store) SaveTask(t *models.Task) error {
	args := taskArgs(t)[1:] // id keys the WHERE clause instead
	query := `UPDATE tasks SET ` + taskSetClause + ` WHERE id = ?`
	res, err := s.db.Exec(query, append(args, t.ID)...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil when absent.
func (s *Store) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

func (s *Store) queryTasks(query string, args ...any) ([]models.Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status        models.TaskStatus
	AssignedToUID string
	ClientID      string
}

// ListTasks returns tasks matching the filter, newest due date first.
func (s *Store) ListTasks(f TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks`
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, string(f.Status))
	}
	if f.AssignedToUID != "" {
		conds = append(conds, `assigned_to_uid = ?`)
		args = append(args, f.AssignedToUID)
	}
	if f.ClientID != "" {
		conds = append(conds, `client_id = ?`)
		args = append(args, f.ClientID)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY due_date_ymd DESC, occurrence_index ASC`
	return s.queryTasks(query, args...)
}

// TasksBySeries returns every occurrence sharing a series id, in index order.
func (s *Store) TasksBySeries(seriesID string) ([]models.Task, error) {
	return s.queryTasks(
		`SELECT `+taskCols+` FROM tasks WHERE series_id = ? ORDER BY occurrence_index ASC`, seriesID,
	)
}

// TasksByIDs loads the given ids, silently dropping absent ones. Lookups are
// chunked to stay under the per-batch limit.
func (s *Store) TasksByIDs(ids []string) ([]models.Task, error) {
	var out []models.Task
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		ph := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		tasks, err := s.queryTasks(
			`SELECT `+taskCols+` FROM tasks WHERE id IN (`+ph+`)`, args...,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, tasks...)
	}
	return out, nil
}

// TasksStartingOn returns active tasks whose start date is ymd and whose
// start notification has not been sent.
func (s *Store) TasksStartingOn(ymd string) ([]models.Task, error) {
	return s.queryTasks(
		`SELECT `+taskCols+` FROM tasks WHERE start_date_ymd = ? AND start_mail_sent = 0`, ymd,
	)
}

// ActiveTasksDueThrough returns non-completed tasks with a due date up to
// and including endYmd (overdue ones included).
func (s *Store) ActiveTasksDueThrough(endYmd string) ([]models.Task, error) {
	return s.queryTasks(
		`SELECT `+taskCols+` FROM tasks WHERE status != ? AND due_date_ymd <= ? ORDER BY due_date_ymd ASC`,
		string(models.StatusCompleted), endYmd,
	)
}

// MarkStartMailSent flips the one-shot start-mail flag and records the
// provider thread identifiers. The WHERE guard keeps the transition
// false -> true exactly once even under a concurrent retry.
func (s *Store) MarkStartMailSent(id string, at time.Time, thread models.ThreadRef) error {
	tj, _ := json.Marshal(thread)
	res, err := s.db.Exec(
		`UPDATE tasks SET start_mail_sent = 1, start_mail_sent_at = ?, start_thread = ?, updated_at = ? WHERE id = ? AND start_mail_sent = 0`,
		at, string(tj), at, id,
	)
	if err != nil {
		return fmt.Errorf("mark start mail sent: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task row.
func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Chunked bulk writes ---

func (s *Store) bulkExec(ids []string, exec func(tx *sql.Tx, id string) error) (int, error) {
	updated := 0
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return updated, fmt.Errorf("begin transaction: %w", err)
		}
		for _, id := range ids[start:end] {
			if err := exec(tx, id); err != nil {
				tx.Rollback()
				return updated, err
			}
		}
		if err := tx.Commit(); err != nil {
			return updated, fmt.Errorf("commit transaction: %w", err)
		}
		updated += end - start
	}
	return updated, nil
}

// BulkSetStatus applies a status change (with its timestamp stamps) to ids
// in chunked transactions.
func (s *Store) BulkSetStatus(ids []string, status models.TaskStatus, now time.Time) (int, error) {
	return s.bulkExec(ids, func(tx *sql.Tx, id string) error {
		var err error
		switch status {
		case models.StatusApprovalPending:
			_, err = tx.Exec(`UPDATE tasks SET status = ?, completed_requested_at = ?, updated_at = ? WHERE id = ?`,
				string(status), now, now, id)
		case models.StatusCompleted:
			_, err = tx.Exec(`UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
				string(status), now, now, id)
		default:
			_, err = tx.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
				string(status), now, id)
		}
		if err != nil {
			return fmt.Errorf("bulk status %s: %w", id, err)
		}
		return nil
	})
}

// BulkReassign points ids at a new assignee in chunked transactions.
func (s *Store) BulkReassign(ids []string, email, uid string, now time.Time) (int, error) {
	return s.bulkExec(ids, func(tx *sql.Tx, id string) error {
		if _, err := tx.Exec(`UPDATE tasks SET assigned_to_email = ?, assigned_to_uid = ?, updated_at = ? WHERE id = ?`,
			email, uid, now, id); err != nil {
			return fmt.Errorf("bulk reassign %s: %w", id, err)
		}
		return nil
	})
}

// BulkSnooze sets the advisory snooze date on ids in chunked transactions.
func (s *Store) BulkSnooze(ids []string, untilYmd string, now time.Time) (int, error) {
	return s.bulkExec(ids, func(tx *sql.Tx, id string) error {
		if _, err := tx.Exec(`UPDATE tasks SET snoozed_until_ymd = ?, updated_at = ? WHERE id = ?`,
			untilYmd, now, id); err != nil {
			return fmt.Errorf("bulk snooze %s: %w", id, err)
		}
		return nil
	})
}

// SetSeriesTotal rewrites occurrence_total on every row of a series.
func (s *Store) SetSeriesTotal(seriesID string, total int, now time.Time) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET occurrence_total = ?, updated_at = ? WHERE series_id = ?`,
		total, now, seriesID,
	)
	if err != nil {
		return fmt.Errorf("set series total: %w", err)
	}
	return nil
}

// --- Audit Operations ---

// AppendAudit writes one append-only audit row.
func (s *Store) AppendAudit(e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	details, _ := json.Marshal(e.Details)
	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, task_id, action, actor_uid, actor_email, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.TaskID), e.Action, nullString(e.ActorUID), nullString(e.ActorEmail), string(details), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// AuditForTask returns audit entries for a task, newest first.
func (s *Store) AuditForTask(taskID string) ([]models.AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, action, actor_uid, actor_email, details, timestamp FROM audit_log WHERE task_id = ? ORDER BY timestamp DESC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var taskID, actorUID, actorEmail sql.NullString
		var details string
		if err := rows.Scan(&e.ID, &taskID, &e.Action, &actorUID, &actorEmail, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.TaskID = taskID.String
		e.ActorUID = actorUID.String
		e.ActorEmail = actorEmail.String
		json.Unmarshal([]byte(details), &e.Details)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Job Markers ---

// GetJobMarker returns the last-run civil date recorded for a job, or ""
// when the job has never run.
func (s *Store) GetJobMarker(jobName string) (string, error) {
	var ymd string
	err := s.db.QueryRow(`SELECT last_run_ymd FROM job_markers WHERE job_name = ?`, jobName).Scan(&ymd)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query job marker: %w", err)
	}
	return ymd, nil
}

// SetJobMarker records the last-run civil date for a job.
func (s *Store) SetJobMarker(jobName, ymd string) error {
	_, err := s.db.Exec(
		`INSERT INTO job_markers (job_name, last_run_ymd) VALUES (?, ?)
		 ON CONFLICT(job_name) DO UPDATE SET last_run_ymd = excluded.last_run_ymd`,
		jobName, ymd,
	)
	if err != nil {
		return fmt.Errorf("set job marker: %w", err)
	}
	return nil
}

// --- helpers ---

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

func emptyAttachments(xs []models.Attachment) []models.Attachment {
	if xs == nil {
		return []models.Attachment{}
	}
	return xs
}
