package session

import (
	"context"
	"time"

	"github.com/learnquest/proctoring-engine/internal/domain/violation"
)

// ResultRepository stores finalized verdicts.
// Implementations live in infrastructure/persistence.
type ResultRepository interface {
	// Save persists a verdict record with its embedded violation log.
	Save(ctx context.Context, result *Result) error

	// LatestByKey returns the most recent verdict for a (user, course).
	// Returns shared.ErrVerdictNotFound when none exists.
	LatestByKey(ctx context.Context, key Key) (*Result, error)

	// ListByUser returns a user's verdicts, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Result, error)
}

// AuditEntry is one row of the append-only violation audit log, kept
// independently of the embedded copy inside Result.
type AuditEntry struct {
	ID        string
	UserID    string
	CourseID  string
	Violation violation.Event
	LoggedAt  time.Time
}

// ViolationRepository stores the audit log.
type ViolationRepository interface {
	// Append records one violation for the session key.
	Append(ctx context.Context, key Key, ev violation.Event) error

	// ListByKey returns violations for a (user, course), newest first.
	ListByKey(ctx context.Context, key Key, limit int) ([]AuditEntry, error)
}
