// Package jobs contains implementations of scheduled maintenance jobs.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/learnquest/proctoring-engine/internal/application/engine"
)

// SweepSessionsJob expires sessions whose clients went away: disconnected
// past the reconnect grace window, or silent past the idle timeout. Each
// expired session finalizes with its accumulated behavior score and no test
// score, so an abandoned exam still leaves an auditable verdict.
type SweepSessionsJob struct {
	registry *engine.Registry
	logger   *slog.Logger

	totalExpired atomic.Int64
}

// NewSweepSessionsJob creates the sweep job for the given registry.
func NewSweepSessionsJob(registry *engine.Registry, logger *slog.Logger) *SweepSessionsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepSessionsJob{registry: registry, logger: logger}
}

// Name returns the unique name of the job.
func (j *SweepSessionsJob) Name() string { return "sweep_sessions" }

// Run performs one sweep over the live sessions.
func (j *SweepSessionsJob) Run(ctx context.Context) error {
	expired := j.registry.SweepIdle(time.Now().UTC())
	if expired > 0 {
		j.totalExpired.Add(int64(expired))
		j.logger.Info("expired abandoned sessions",
			"expired", expired,
			"live", j.registry.Len(),
		)
	}
	return ctx.Err()
}

// TotalExpired returns the number of sessions expired since startup.
func (j *SweepSessionsJob) TotalExpired() int64 {
	return j.totalExpired.Load()
}
