package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnquest/proctoring-engine/internal/domain/session"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
)

// ViolationRepository implements session.ViolationRepository for PostgreSQL.
type ViolationRepository struct {
	conn *Connection
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(conn *Connection) *ViolationRepository {
	return &ViolationRepository{conn: conn}
}

// Append records one violation for the session key.
func (r *ViolationRepository) Append(ctx context.Context, key session.Key, ev violation.Event) error {
	query := `
		INSERT INTO violations (
			id, user_id, course_id, violation_type, severity,
			penalty_applied, points, details, occurred_at, logged_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	detailsJSON := []byte("{}")
	if ev.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal violation details: %w", err)
		}
	}

	_, err := r.conn.Exec(ctx, query,
		uuid.NewString(),
		key.UserID,
		key.CourseID,
		ev.Type.String(),
		string(ev.Severity),
		ev.PenaltyApplied,
		ev.Points,
		detailsJSON,
		ev.Timestamp,
		time.Now().UTC(),
	)
	if err != nil {
		if IsTransient(err) {
			return shared.WrapError("violation", "Append", shared.ErrServiceUnavailable,
				"database unavailable", err)
		}
		return fmt.Errorf("failed to append violation: %w", err)
	}

	return nil
}

// ListByKey returns violations for a (user, course), newest first.
func (r *ViolationRepository) ListByKey(ctx context.Context, key session.Key, limit int) ([]session.AuditEntry, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, user_id, course_id, violation_type, severity,
			   penalty_applied, points, details, occurred_at, logged_at
		FROM violations
		WHERE user_id = $1 AND course_id = $2
		ORDER BY occurred_at DESC
		LIMIT $3
	`

	rows, err := r.conn.Query(ctx, query, key.UserID, key.CourseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var entries []session.AuditEntry
	for rows.Next() {
		var (
			entry       session.AuditEntry
			typeName    string
			severity    string
			detailsJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.CourseID,
			&typeName,
			&severity,
			&entry.Violation.PenaltyApplied,
			&entry.Violation.Points,
			&detailsJSON,
			&entry.Violation.Timestamp,
			&entry.LoggedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}

		vt, err := violation.ParseType(typeName)
		if err != nil {
			return nil, fmt.Errorf("corrupt violation row %s: %w", entry.ID, err)
		}
		entry.Violation.Type = vt
		entry.Violation.Severity = violation.Severity(severity)

		if len(detailsJSON) > 0 {
			var details map[string]any
			if err := json.Unmarshal(detailsJSON, &details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal violation details: %w", err)
			}
			if len(details) > 0 {
				entry.Violation.Details = details
			}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
