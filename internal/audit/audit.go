// Package audit provides the append-only action trail for firmdesk.
package audit

import (
	"log"

	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/firmdesk/firmdesk/internal/store"
)

// Logger writes audit entries for state-mutating actions. Audit writes are
// best-effort: a failure is logged and never fails the primary operation.
type Logger struct {
	store *store.Store
}

// New creates a new audit logger.
func New(s *store.Store) *Logger {
	return &Logger{store: s}
}

// Actor identifies who performed an action.
type Actor struct {
	UID   string
	Email string
}

// Record appends one audit entry.
func (l *Logger) Record(actor Actor, action, taskID string, details map[string]string) {
	err := l.store.AppendAudit(&models.AuditEntry{
		TaskID:     taskID,
		Action:     action,
		ActorUID:   actor.UID,
		ActorEmail: actor.Email,
		Details:    details,
	})
	if err != nil {
		log.Printf("audit: failed to record %s for task %s: %v", action, taskID, err)
	}
}
