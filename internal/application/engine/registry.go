package engine

import (
	"context"
	"sync"
	"time"

	"github.com/learnquest/proctoring-engine/internal/domain/session"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/pkg/logger"
)

// Registry holds the live session workers, one per (user, course) key. It
// enforces at-most-one active session per key and evicts workers as they
// terminate.
type Registry struct {
	cfg       Config
	finalizer *Finalizer
	bus       shared.EventBus
	metrics   Metrics
	log       *logger.Logger

	mu      sync.Mutex
	workers map[session.Key]*Worker
	closed  bool
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg Config, fin *Finalizer, bus shared.EventBus, metrics Metrics, log *logger.Logger) *Registry {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Registry{
		cfg:       cfg.withDefaults(),
		finalizer: fin,
		bus:       bus,
		metrics:   metrics,
		log:       log.With(logger.Component("registry")),
		workers:   make(map[session.Key]*Worker),
	}
}

// GetOrCreate returns the worker for the key, starting a new session if none
// exists. If a worker exists and a connection is attached to it, the call
// fails with ErrDuplicateSession and the existing session is untouched. A
// detached worker inside the reconnect grace window is returned as-is so the
// client resumes its original session and score.
func (r *Registry) GetOrCreate(key session.Key, now time.Time) (*Worker, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, shared.ErrSessionClosed
	}

	if w, ok := r.workers[key]; ok {
		if w.Attached() {
			return nil, shared.ErrDuplicateSession
		}
		return w, nil
	}

	sess, err := session.New(key, session.Config{
		Rules:             r.cfg.Rules,
		FaceAbsenceWindow: r.cfg.FaceAbsenceWindow,
		TestDuration:      r.cfg.TestDuration,
	}, now)
	if err != nil {
		return nil, err
	}

	w := newWorker(sess, r.cfg, r.finalizer, r.bus, r.metrics, r.log, r.evict)
	r.workers[key] = w
	r.metrics.SessionStarted()
	w.start()

	r.log.Info("session created",
		logger.SessionID(sess.ID()),
		logger.UserID(key.UserID),
		logger.CourseID(key.CourseID),
	)
	return w, nil
}

// Lookup returns the live worker for the key, if any.
func (r *Registry) Lookup(key session.Key) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[key]
	return w, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// evict runs from the worker goroutine as it terminates.
func (r *Registry) evict(w *Worker) {
	r.mu.Lock()
	if cur, ok := r.workers[w.Key()]; ok && cur == w {
		delete(r.workers, w.Key())
	}
	r.mu.Unlock()
}

// SweepIdle expires sessions whose client went silent: detached longer than
// the reconnect grace, or no inbound event within the idle timeout. Returns
// the number of sessions expired.
func (r *Registry) SweepIdle(now time.Time) int {
	r.mu.Lock()
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	expired := 0
	for _, w := range workers {
		lastEvent, detachedAt, attached := w.idleState()
		switch {
		case !attached && !detachedAt.IsZero() && now.Sub(detachedAt) >= r.cfg.ReconnectGrace:
			w.Expire("disconnected")
			expired++
		case now.Sub(lastEvent) >= r.cfg.IdleTimeout:
			w.Expire("idle")
			expired++
		}
	}
	return expired
}

// Shutdown expires every live session and waits for workers to drain.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	for _, w := range workers {
		w.Expire("shutdown")
	}
	for _, w := range workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.log.Info("registry drained", logger.Int("sessions", len(workers)))
	return nil
}
