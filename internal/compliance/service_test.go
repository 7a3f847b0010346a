package compliance

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/firmdesk/firmdesk/internal/audit"
	"github.com/firmdesk/firmdesk/internal/auth"
	"github.com/firmdesk/firmdesk/internal/calendar"
	"github.com/firmdesk/firmdesk/internal/mail"
	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/firmdesk/firmdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCalendar struct {
	inserts []calendar.EventInput
	patches map[string]calendar.EventInput
	deletes []string
	nextID  int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{patches: map[string]calendar.EventInput{}}
}

func (f *fakeCalendar) Insert(in calendar.EventInput) (*calendar.Event, error) {
	f.nextID++
	f.inserts = append(f.inserts, in)
	id := fmt.Sprintf("ev-%d", f.nextID)
	return &calendar.Event{ID: id, HTMLLink: "https://cal/" + id}, nil
}

func (f *fakeCalendar) Patch(eventID string, in calendar.EventInput) error {
	f.patches[eventID] = in
	return nil
}

func (f *fakeCalendar) Delete(eventID string) error {
	f.deletes = append(f.deletes, eventID)
	return nil
}

type fakeMailer struct {
	sent    []mail.Message
	replies []mail.Reply
}

func (f *fakeMailer) Send(m mail.Message) (*mail.SendResult, error) {
	if len(m.To) == 0 {
		return nil, nil
	}
	f.sent = append(f.sent, m)
	return &mail.SendResult{ThreadID: "th-new", MessageID: "m-new"}, nil
}

func (f *fakeMailer) SendReply(r mail.Reply) (*mail.SendResult, error) {
	if len(r.To) == 0 {
		return nil, nil
	}
	f.replies = append(f.replies, r)
	return &mail.SendResult{ThreadID: r.ThreadID, MessageID: "m-reply"}, nil
}

type fixture struct {
	svc       *Service
	store     *store.Store
	cal       *fakeCalendar
	mailer    *fakeMailer
	partner   auth.Identity
	associate auth.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "compliance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	partner := &models.User{Email: "partner@firm.example", Role: auth.RolePartner, APIToken: "pt", Active: true}
	require.NoError(t, st.CreateUser(partner))
	associate := &models.User{Email: "asha@firm.example", Role: auth.RoleAssociate, ManagerEmail: "manager@firm.example", APIToken: "at", Active: true}
	require.NoError(t, st.CreateUser(associate))

	cal := newFakeCalendar()
	mailer := &fakeMailer{}
	svc := New(st, audit.New(st), cal, mailer, calendar.DefaultWindow(), "Compliance Team")

	return &fixture{
		svc:       svc,
		store:     st,
		cal:       cal,
		mailer:    mailer,
		partner:   auth.Identity{UID: partner.ID, Email: partner.Email, Role: auth.RolePartner},
		associate: auth.Identity{UID: associate.ID, Email: associate.Email, Role: auth.RoleAssociate},
	}
}

func (f *fixture) createMonthlySeries(t *testing.T) []models.Task {
	t.Helper()
	tasks, err := f.svc.CreateSeries(f.partner, CreateSeriesInput{
		ClientName:      "Acme Traders",
		ClientEmail:     "accounts@acme.example",
		Title:           "GSTR-3B Filing",
		Category:        "GST",
		Recurrence:      "MONTHLY",
		DueDateYmd:      "2025-01-31",
		GenerateCount:   3,
		AssignedToEmail: "asha@firm.example",
	})
	require.NoError(t, err)
	return tasks
}

func TestCreateSeriesMonthEndSchedule(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)

	require.Len(t, tasks, 3)
	assert.NotEmpty(t, tasks[0].SeriesID)
	for i, task := range tasks {
		assert.Equal(t, i+1, task.OccurrenceIndex)
		assert.Equal(t, 3, task.OccurrenceTotal)
		assert.Equal(t, tasks[0].SeriesID, task.SeriesID)
		assert.Equal(t, models.StatusPending, task.Status)
		assert.Equal(t, "asha@firm.example", task.AssignedToEmail)
		assert.True(t, task.StartMail.Enabled, "start track defaults on")
		assert.True(t, task.CompletionMail.Enabled, "completion track defaults on")
	}

	// Month-end anchor stays pinned to the last day where needed.
	assert.Equal(t, "2025-01-31", tasks[0].DueDateYmd)
	assert.Equal(t, "2025-02-28", tasks[1].DueDateYmd)
	assert.Equal(t, "2025-03-31", tasks[2].DueDateYmd)
	assert.Equal(t, "2025-01-16", tasks[0].StartDateYmd)

	// Every occurrence got its own calendar mirror.
	require.Len(t, f.cal.inserts, 3)
	assert.Equal(t, "START: GSTR-3B Filing", f.cal.inserts[0].Summary)
	assert.Equal(t, "ev-1", tasks[0].CalendarEventID)

	// Client was created with the provided primary address.
	client, err := f.store.FindClientByName("Acme Traders")
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, "accounts@acme.example", client.PrimaryEmail)
}

func TestCreateSeriesAdHocCollapses(t *testing.T) {
	f := newFixture(t)
	tasks, err := f.svc.CreateSeries(f.partner, CreateSeriesInput{
		ClientName:    "Acme Traders",
		Title:         "One-off audit",
		Recurrence:    "AD_HOC",
		DueDateYmd:    "2025-02-20",
		GenerateCount: 5,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].SeriesID)
	assert.Equal(t, 1, tasks[0].OccurrenceIndex)
	assert.Equal(t, 1, tasks[0].OccurrenceTotal)
}

func TestCreateSeriesForbiddenForAssociate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSeries(f.associate, CreateSeriesInput{
		ClientName: "Acme Traders",
		DueDateYmd: "2025-02-20",
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateSeriesInvalidDueDate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSeries(f.partner, CreateSeriesInput{
		ClientName: "Acme Traders",
		DueDateYmd: "2025-02-31",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAppendToSeriesContinuesCadence(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)
	seriesID := tasks[0].SeriesID

	res, err := f.svc.AppendToSeries(f.partner, AppendInput{SeriesID: seriesID, AddCount: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 5, res.NewTotal)

	all, err := f.store.TasksBySeries(seriesID)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "2025-04-30", all[3].DueDateYmd)
	assert.Equal(t, "2025-05-31", all[4].DueDateYmd)
	for _, task := range all {
		assert.Equal(t, 5, task.OccurrenceTotal, "every sibling carries the new total")
	}

	// New occurrences start fresh.
	assert.Equal(t, models.StatusPending, all[3].Status)
	assert.False(t, all[3].StartMailSent)
	assert.NotEqual(t, tasks[0].CalendarEventID, all[3].CalendarEventID)
}

func TestAppendToSeriesMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AppendToSeries(f.partner, AppendInput{SeriesID: "nope", AddCount: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditSeriesNeverMovesDueDates(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)

	newTitle := "GSTR-3B Monthly Return"
	trigger := 10
	res, err := f.svc.EditTask(f.partner, tasks[0].ID, EditInput{
		ApplyToSeries:     true,
		Title:             &newTitle,
		TriggerDaysBefore: &trigger,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.UpdatedCount)

	all, _ := f.store.TasksBySeries(tasks[0].SeriesID)
	assert.Equal(t, "2025-01-31", all[0].DueDateYmd)
	assert.Equal(t, "2025-02-28", all[1].DueDateYmd)
	assert.Equal(t, "2025-03-31", all[2].DueDateYmd)
	for _, task := range all {
		assert.Equal(t, "GSTR-3B Monthly Return", task.Title)
		assert.Equal(t, 10, task.TriggerDaysBefore)
	}
	// Start dates recomputed from each occurrence's own due date.
	assert.Equal(t, "2025-01-21", all[0].StartDateYmd)
	assert.Equal(t, "2025-02-18", all[1].StartDateYmd)
}

func TestEditSingleDueDateRecomputesStart(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)

	due := "2025-02-10"
	_, err := f.svc.EditTask(f.partner, tasks[0].ID, EditInput{DueDateYmd: &due})
	require.NoError(t, err)

	got, _ := f.store.GetTask(tasks[0].ID)
	assert.Equal(t, "2025-02-10", got.DueDateYmd)
	assert.Equal(t, "2025-01-26", got.StartDateYmd)

	// Siblings untouched.
	sibling, _ := f.store.GetTask(tasks[1].ID)
	assert.Equal(t, "2025-02-28", sibling.DueDateYmd)
}

func TestEditSeriesDueDateRejected(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)

	due := "2025-02-10"
	_, err := f.svc.EditTask(f.partner, tasks[0].ID, EditInput{ApplyToSeries: true, DueDateYmd: &due})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEditForbiddenForAssociate(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)
	title := "x"
	_, err := f.svc.EditTask(f.associate, tasks[0].ID, EditInput{Title: &title})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteSeries(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)

	res, err := f.svc.DeleteTask(f.partner, tasks[0].ID, true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.DeletedCount)
	assert.Len(t, f.cal.deletes, 3, "calendar mirrors removed")

	left, _ := f.store.TasksBySeries(tasks[0].SeriesID)
	assert.Empty(t, left)
}

func TestDeleteSingleKeepsSiblingTotals(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)

	res, err := f.svc.DeleteTask(f.associate, tasks[1].ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeletedCount)

	left, _ := f.store.TasksBySeries(tasks[0].SeriesID)
	require.Len(t, left, 2)
	for _, task := range left {
		assert.Equal(t, 3, task.OccurrenceTotal, "recorded totals keep their history")
	}
}

func TestDeleteSeriesForbiddenForAssociate(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)
	_, err := f.svc.DeleteTask(f.associate, tasks[0].ID, true)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteForeignTaskForbidden(t *testing.T) {
	f := newFixture(t)
	tasks, err := f.svc.CreateSeries(f.partner, CreateSeriesInput{
		ClientName:      "Acme Traders",
		Title:           "Partner-only task",
		DueDateYmd:      "2025-02-20",
		AssignedToEmail: "partner@firm.example",
	})
	require.NoError(t, err)

	_, err = f.svc.DeleteTask(f.associate, tasks[0].ID, false)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListTasksPinsAssociatesToOwn(t *testing.T) {
	f := newFixture(t)
	f.createMonthlySeries(t)
	_, err := f.svc.CreateSeries(f.partner, CreateSeriesInput{
		ClientName:      "Acme Traders",
		Title:           "Partner task",
		DueDateYmd:      "2025-06-30",
		AssignedToEmail: "partner@firm.example",
	})
	require.NoError(t, err)

	mine, err := f.svc.ListTasks(f.associate, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 3)
	for _, task := range mine {
		assert.Equal(t, f.associate.UID, task.AssignedToUID)
	}

	all, err := f.svc.ListTasks(f.partner, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestGetTaskOwnership(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)

	got, err := f.svc.GetTask(f.associate, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, tasks[0].ID, got.ID)

	_, err = f.svc.GetTask(f.associate, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReassignSeries(t *testing.T) {
	f := newFixture(t)
	tasks := f.createMonthlySeries(t)

	n, err := f.svc.ReassignSeries(f.partner, tasks[0].SeriesID, "partner@firm.example")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, _ := f.store.TasksBySeries(tasks[0].SeriesID)
	for _, task := range all {
		assert.Equal(t, "partner@firm.example", task.AssignedToEmail)
	}

	_, err = f.svc.ReassignSeries(f.partner, tasks[0].SeriesID, "ghost@firm.example")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.ReassignSeries(f.associate, tasks[0].SeriesID, "partner@firm.example")
	assert.ErrorIs(t, err, ErrForbidden)
}
