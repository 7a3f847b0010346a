package compliance

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/firmdesk/firmdesk/internal/auth"
	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	*fixture
	srv        *httptest.Server
	reconciled []bool
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	f := newFixture(t)
	sf := &serverFixture{fixture: f}

	reconcile := func(force bool) (any, error) {
		sf.reconciled = append(sf.reconciled, force)
		return map[string]string{"status": "ran"}, nil
	}
	server := NewServer(f.svc, auth.NewStoreVerifier(f.store), "topsecret", reconcile, "127.0.0.1:0")
	sf.srv = httptest.NewServer(server.Handler())
	t.Cleanup(sf.srv.Close)
	return sf
}

func (sf *serverFixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, sf.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServerRequiresToken(t *testing.T) {
	sf := newServerFixture(t)

	resp := sf.do(t, http.MethodGet, "/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = sf.do(t, http.MethodGet, "/tasks", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerCreateSeries(t *testing.T) {
	sf := newServerFixture(t)

	resp := sf.do(t, http.MethodPost, "/tasks/series", "pt", CreateSeriesInput{
		ClientName:      "Acme Traders",
		Title:           "GSTR-3B Filing",
		Category:        "GST",
		Recurrence:      "MONTHLY",
		DueDateYmd:      "2025-01-31",
		GenerateCount:   2,
		AssignedToEmail: "asha@firm.example",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	tasks := decodeBody[[]models.Task](t, resp)
	require.Len(t, tasks, 2)
	assert.Equal(t, "2025-01-31", tasks[0].DueDateYmd)
	assert.Equal(t, "2025-02-28", tasks[1].DueDateYmd)
}

func TestServerCreateSeriesForbiddenForAssociate(t *testing.T) {
	sf := newServerFixture(t)

	resp := sf.do(t, http.MethodPost, "/tasks/series", "at", CreateSeriesInput{
		ClientName: "Acme Traders",
		Title:      "Forbidden",
		DueDateYmd: "2025-01-31",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServerCreateSingleTaskIsAdHoc(t *testing.T) {
	sf := newServerFixture(t)

	resp := sf.do(t, http.MethodPost, "/tasks", "pt", CreateSeriesInput{
		ClientName: "Acme Traders",
		Title:      "One-off",
		Recurrence: "MONTHLY",
		// A count on the single-task endpoint is ignored.
		GenerateCount: 12,
		DueDateYmd:    "2025-01-31",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	task := decodeBody[models.Task](t, resp)
	assert.Equal(t, models.RecurAdHoc, task.Recur)
	assert.Empty(t, task.SeriesID)
}

func TestServerTaskLifecycleRoutes(t *testing.T) {
	sf := newServerFixture(t)
	tasks := sf.createMonthlySeries(t)
	id := tasks[0].ID

	resp := sf.do(t, http.MethodGet, "/tasks/"+id, "at", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[models.Task](t, resp)
	assert.Equal(t, id, got.ID)

	resp = sf.do(t, http.MethodPost, "/tasks/"+id+"/status", "at", StatusInput{NewStatus: "IN_PROGRESS"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decodeBody[models.Task](t, resp)
	assert.Equal(t, models.StatusInProgress, got.Status)

	resp = sf.do(t, http.MethodPost, "/tasks/"+id+"/status", "at", StatusInput{NewStatus: "NOPE"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	title := "Renamed"
	resp = sf.do(t, http.MethodPost, "/tasks/"+id+"/edit", "pt", EditInput{Title: &title})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edit := decodeBody[EditResult](t, resp)
	assert.Equal(t, 1, edit.UpdatedCount)

	resp = sf.do(t, http.MethodGet, "/tasks/"+id+"/audit", "pt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = sf.do(t, http.MethodPost, "/tasks/"+id+"/delete", "pt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	del := decodeBody[DeleteResult](t, resp)
	assert.Equal(t, 1, del.DeletedCount)

	resp = sf.do(t, http.MethodGet, "/tasks/"+id, "pt", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerListFiltersForAssociate(t *testing.T) {
	sf := newServerFixture(t)
	sf.createMonthlySeries(t)
	_, err := sf.svc.CreateSeries(sf.partner, CreateSeriesInput{
		ClientName:      "Acme Traders",
		Title:           "Partner task",
		DueDateYmd:      "2025-06-30",
		AssignedToEmail: "partner@firm.example",
	})
	require.NoError(t, err)

	resp := sf.do(t, http.MethodGet, "/tasks", "at", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mine := decodeBody[[]models.Task](t, resp)
	require.Len(t, mine, 3)
	for _, task := range mine {
		assert.Equal(t, "asha@firm.example", task.AssignedToEmail)
	}

	resp = sf.do(t, http.MethodGet, "/tasks?status=PENDING", "pt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decodeBody[[]models.Task](t, resp)
	assert.Len(t, all, 4)
}

func TestServerBulkRoute(t *testing.T) {
	sf := newServerFixture(t)
	tasks := sf.createMonthlySeries(t)

	resp := sf.do(t, http.MethodPost, "/tasks/bulk", "pt", BulkInput{
		Op:        "STATUS",
		TaskIDs:   []string{tasks[0].ID, tasks[1].ID},
		NewStatus: "IN_PROGRESS",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decodeBody[BulkReport](t, resp)
	assert.Equal(t, 2, report.UpdatedCount)
}

func TestServerReconcileGate(t *testing.T) {
	sf := newServerFixture(t)

	resp := sf.do(t, http.MethodPost, "/jobs/reconcile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, sf.reconciled)

	req, _ := http.NewRequest(http.MethodPost, sf.srv.URL+"/jobs/reconcile?force=true", nil)
	req.Header.Set("X-Cron-Secret", "topsecret")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	require.Len(t, sf.reconciled, 1)
	assert.True(t, sf.reconciled[0])

	// The secret may also ride the query string for schedulers that
	// cannot set headers.
	resp = sf.do(t, http.MethodPost, "/jobs/reconcile?secret=topsecret", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, sf.reconciled, 2)
}

func TestServerReconcileErrorSurfaces(t *testing.T) {
	f := newFixture(t)
	failing := func(force bool) (any, error) { return nil, errors.New("digest render failed") }
	server := NewServer(f.svc, auth.NewStoreVerifier(f.store), "topsecret", failing, "127.0.0.1:0")
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/jobs/reconcile", nil)
	req.Header.Set("X-Cron-Secret", "topsecret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
