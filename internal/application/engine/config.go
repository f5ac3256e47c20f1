// Package engine runs the live proctoring pipeline: a registry of per-session
// workers, each one a dedicated goroutine that owns its session exclusively
// and processes observation events one at a time from a bounded queue.
package engine

import (
	"time"

	"github.com/learnquest/proctoring-engine/internal/domain/violation"
)

// Config carries the engine-wide settings shared by all sessions.
type Config struct {
	// Rules is the process-wide read-only penalty table.
	Rules violation.RuleTable

	// FaceAbsenceWindow is the continuous-absence threshold for FaceAbsent.
	FaceAbsenceWindow time.Duration

	// TestDuration bounds every exam attempt; the deadline finalizes the
	// session if no submission arrived first.
	TestDuration time.Duration

	// QueueSize bounds each session's inbound event queue. When the queue
	// is full the oldest unprocessed event is dropped, keeping live
	// feedback close to real time instead of buffering without bound.
	QueueSize int

	// IdleTimeout finalizes sessions that stopped receiving events
	// entirely, so a wedged client never leaves an orphaned active session.
	IdleTimeout time.Duration

	// ReconnectGrace is how long a disconnected session is held open for
	// the client to reconnect before it is finalized with no test score.
	ReconnectGrace time.Duration

	// PersistTimeout bounds the verdict write at finalize.
	PersistTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Rules:             violation.DefaultRules(),
		FaceAbsenceWindow: violation.DefaultFaceAbsenceWindow,
		TestDuration:      60 * time.Minute,
		QueueSize:         64,
		IdleTimeout:       2 * time.Minute,
		ReconnectGrace:    60 * time.Second,
		PersistTimeout:    10 * time.Second,
	}
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Rules == (violation.RuleTable{}) {
		c.Rules = d.Rules
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.FaceAbsenceWindow <= 0 {
		c.FaceAbsenceWindow = d.FaceAbsenceWindow
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.ReconnectGrace <= 0 {
		c.ReconnectGrace = d.ReconnectGrace
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	return c
}
