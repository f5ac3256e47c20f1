package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	_, err := m.conn.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time

		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}

		applied[version] = appliedAt
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}

		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}

			insertQuery := fmt.Sprintf(
				"INSERT INTO %s (version, name) VALUES ($1, $2)",
				m.tableName,
			)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}

	return nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_test_results",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_violations",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

const migration001Up = `
CREATE TABLE IF NOT EXISTS test_results (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	course_id TEXT NOT NULL,
	difficulty TEXT NOT NULL DEFAULT '',
	test_score DOUBLE PRECISION NOT NULL,
	behavior_score DOUBLE PRECISION NOT NULL,
	final_score DOUBLE PRECISION NOT NULL,
	violations JSONB NOT NULL DEFAULT '[]',
	certificate_status TEXT NOT NULL,
	submitted_at TIMESTAMP WITH TIME ZONE NOT NULL,

	CONSTRAINT test_results_scores_range CHECK (
		test_score BETWEEN 0 AND 100 AND
		behavior_score BETWEEN 0 AND 100 AND
		final_score BETWEEN 0 AND 100
	)
);

CREATE INDEX IF NOT EXISTS idx_test_results_user_course
	ON test_results (user_id, course_id, submitted_at DESC);

CREATE INDEX IF NOT EXISTS idx_test_results_user
	ON test_results (user_id, submitted_at DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS test_results;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS violations (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	course_id TEXT NOT NULL,
	violation_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	penalty_applied BOOLEAN NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	details JSONB NOT NULL DEFAULT '{}',
	occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
	logged_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_violations_user_course
	ON violations (user_id, course_id, occurred_at DESC);

CREATE INDEX IF NOT EXISTS idx_violations_type
	ON violations (violation_type);
`

const migration002Down = `
DROP TABLE IF EXISTS violations;
`
