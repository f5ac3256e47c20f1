package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/learnquest/proctoring-engine/internal/domain/session"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"

	"github.com/jackc/pgx/v5"
)

// ResultRepository implements session.ResultRepository for PostgreSQL.
type ResultRepository struct {
	conn *Connection
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(conn *Connection) *ResultRepository {
	return &ResultRepository{conn: conn}
}

// Save persists a verdict record with its embedded violation log.
func (r *ResultRepository) Save(ctx context.Context, result *session.Result) error {
	query := `
		INSERT INTO test_results (
			id, user_id, course_id, difficulty, test_score, behavior_score,
			final_score, violations, certificate_status, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	violationsJSON, err := json.Marshal(result.Violations)
	if err != nil {
		return fmt.Errorf("failed to marshal violations: %w", err)
	}

	_, err = r.conn.Exec(ctx, query,
		result.ID,
		result.UserID,
		result.CourseID,
		string(result.Difficulty),
		result.TestScore,
		result.BehaviorScore,
		result.FinalScore,
		violationsJSON,
		string(result.CertificateStatus),
		result.SubmittedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("verdict", "Save", shared.ErrAlreadyExists,
				"verdict already recorded", err)
		}
		if IsTransient(err) {
			return shared.WrapError("verdict", "Save", shared.ErrServiceUnavailable,
				"database unavailable", err)
		}
		return fmt.Errorf("failed to save verdict: %w", err)
	}

	return nil
}

// LatestByKey returns the most recent verdict for a (user, course).
func (r *ResultRepository) LatestByKey(ctx context.Context, key session.Key) (*session.Result, error) {
	query := `
		SELECT id, user_id, course_id, difficulty, test_score, behavior_score,
			   final_score, violations, certificate_status, submitted_at
		FROM test_results
		WHERE user_id = $1 AND course_id = $2
		ORDER BY submitted_at DESC
		LIMIT 1
	`

	row := r.conn.QueryRow(ctx, query, key.UserID, key.CourseID)
	result, err := scanResult(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrVerdictNotFound
		}
		return nil, fmt.Errorf("failed to load verdict: %w", err)
	}
	return result, nil
}

// ListByUser returns a user's verdicts, newest first.
func (r *ResultRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*session.Result, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, course_id, difficulty, test_score, behavior_score,
			   final_score, violations, certificate_status, submitted_at
		FROM test_results
		WHERE user_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var results []*session.Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

func scanResult(row pgx.Row) (*session.Result, error) {
	var (
		result         session.Result
		difficulty     string
		status         string
		violationsJSON []byte
	)

	err := row.Scan(
		&result.ID,
		&result.UserID,
		&result.CourseID,
		&difficulty,
		&result.TestScore,
		&result.BehaviorScore,
		&result.FinalScore,
		&violationsJSON,
		&status,
		&result.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}

	result.Difficulty = session.Difficulty(difficulty)
	result.CertificateStatus = session.CertificateStatus(status)

	var events []violation.Event
	if len(violationsJSON) > 0 {
		if err := json.Unmarshal(violationsJSON, &events); err != nil {
			return nil, fmt.Errorf("failed to unmarshal violations: %w", err)
		}
	}
	result.Violations = events

	return &result, nil
}
