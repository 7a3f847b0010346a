package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/firmdesk/firmdesk/internal/auth"
)

// ReconcileFunc runs the daily reconciliation and returns its report.
type ReconcileFunc func(force bool) (any, error)

// Server provides the HTTP API for firmdesk.
type Server struct {
	service    *Service
	verifier   auth.Verifier
	cronSecret string
	reconcile  ReconcileFunc
	addr       string
	server     *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, verifier auth.Verifier, cronSecret string, reconcile ReconcileFunc, addr string) *Server {
	return &Server{
		service:    service,
		verifier:   verifier,
		cronSecret: cronSecret,
		reconcile:  reconcile,
		addr:       addr,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/series", s.withIdentity(s.createSeries))
	mux.HandleFunc("/tasks/series/append", s.withIdentity(s.appendSeries))
	mux.HandleFunc("/tasks/series/reassign", s.withIdentity(s.reassignSeries))
	mux.HandleFunc("/tasks/bulk", s.withIdentity(s.bulkUpdate))
	mux.HandleFunc("/tasks/", s.handleTaskByID)

	mux.HandleFunc("/jobs/reconcile", s.runReconcile)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Starting firmdesk daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type identityHandler func(w http.ResponseWriter, r *http.Request, actor auth.Identity)

// withIdentity resolves the bearer token before the handler runs.
func (s *Server) withIdentity(h identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.verifier.Verify(auth.BearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r, *id)
	}
}

// handleTasks handles POST /tasks and GET /tasks.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	s.withIdentity(func(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
		switch r.Method {
		case http.MethodPost:
			s.createTask(w, r, actor)
		case http.MethodGet:
			s.listTasks(w, r, actor)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})(w, r)
}

// handleTaskByID handles /tasks/{id} and /tasks/{id}/{action}.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	s.withIdentity(func(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
		path := strings.TrimPrefix(r.URL.Path, "/tasks/")
		parts := strings.Split(path, "/")

		if len(parts) == 0 || parts[0] == "" {
			http.Error(w, "task id required", http.StatusBadRequest)
			return
		}

		taskID := parts[0]
		action := ""
		if len(parts) > 1 {
			action = parts[1]
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			s.getTask(w, r, actor, taskID)
		case action == "audit" && r.Method == http.MethodGet:
			s.getAudit(w, r, actor, taskID)
		case action == "edit" && r.Method == http.MethodPost:
			s.editTask(w, r, actor, taskID)
		case action == "delete" && r.Method == http.MethodPost:
			s.deleteTask(w, r, actor, taskID)
		case action == "status" && r.Method == http.MethodPost:
			s.updateStatus(w, r, actor, taskID)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})(w, r)
}

// --- Handlers ---

func (s *Server) createSeries(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req CreateSeriesInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	tasks, err := s.service.CreateSeries(actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tasks)
}

// createTask creates one standalone task. Single creation is always
// ad-hoc; a recurring schedule goes through /tasks/series.
func (s *Server) createTask(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	var req CreateSeriesInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Recurrence = "AD_HOC"
	req.GenerateCount = 1

	tasks, err := s.service.CreateSeries(actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tasks[0])
}

func (s *Server) appendSeries(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req AppendInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	res, err := s.service.AppendToSeries(actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reassignSeriesRequest struct {
	SeriesID        string `json:"series_id"`
	AssignedToEmail string `json:"assigned_to_email"`
}

func (s *Server) reassignSeries(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reassignSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	n, err := s.service.ReassignSeries(actor, req.SeriesID, req.AssignedToEmail)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated_count": n})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	tasks, err := s.service.ListTasks(actor, ListFilter{
		Status:        r.URL.Query().Get("status"),
		AssignedToUID: r.URL.Query().Get("assigned_to"),
		ClientID:      r.URL.Query().Get("client_id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, actor auth.Identity, taskID string) {
	task, err := s.service.GetTask(actor, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request, actor auth.Identity, taskID string) {
	entries, err := s.service.AuditTrail(actor, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) editTask(w http.ResponseWriter, r *http.Request, actor auth.Identity, taskID string) {
	var req EditInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	res, err := s.service.EditTask(actor, taskID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type deleteTaskRequest struct {
	ApplyToSeries bool `json:"apply_to_series"`
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, actor auth.Identity, taskID string) {
	var req deleteTaskRequest
	if r.Body != nil {
		// An empty body means a single-occurrence delete.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	res, err := s.service.DeleteTask(actor, taskID, req.ApplyToSeries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request, actor auth.Identity, taskID string) {
	var req StatusInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	task, err := s.service.UpdateStatus(actor, taskID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) bulkUpdate(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req BulkInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	report, err := s.service.BulkUpdate(actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// runReconcile is the scheduler entry point. It authenticates with the
// shared cron secret rather than a user token.
func (s *Server) runReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	secret := r.Header.Get("X-Cron-Secret")
	if secret == "" {
		secret = r.URL.Query().Get("secret")
	}
	if !auth.CheckCronSecret(secret, s.cronSecret) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	force := r.URL.Query().Get("force") == "true"
	report, err := s.reconcile(force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrTooManyTasks):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}
