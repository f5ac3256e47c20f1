package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/learnquest/proctoring-engine/internal/domain/session"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
	"github.com/learnquest/proctoring-engine/pkg/logger"
	"github.com/learnquest/proctoring-engine/pkg/retry"
)

// Finalizer turns a finished session into a persisted verdict. The decision
// is computed first and returned to the caller even when persistence fails,
// so the client always learns its outcome.
type Finalizer struct {
	results session.ResultRepository
	retrier *retry.Retrier
	bus     shared.EventBus
	metrics Metrics
	log     *logger.Logger
}

// NewFinalizer constructs a finalizer writing through the given repository.
func NewFinalizer(results session.ResultRepository, bus shared.EventBus, metrics Metrics, log *logger.Logger) *Finalizer {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Finalizer{
		results: results,
		retrier: retry.New(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(100*time.Millisecond),
			retry.WithMaxDelay(2*time.Second),
		),
		bus:     bus,
		metrics: metrics,
		log:     log.With(logger.Component("finalizer")),
	}
}

// Finalize computes the verdict for a session already in StateFinalizing and
// persists it. The returned Result is always non-nil; a non-nil error means
// the write failed and errors.Is(err, shared.ErrPersistence) holds.
func (f *Finalizer) Finalize(ctx context.Context, sess *session.Session, sub session.TestSubmission) (*session.Result, error) {
	behavior := sess.BehaviorScore()
	decision := session.Decide(behavior, sub.TestScore)

	key := sess.Key()
	result := &session.Result{
		ID:                uuid.NewString(),
		UserID:            key.UserID,
		CourseID:          key.CourseID,
		Difficulty:        sub.Difficulty,
		TestScore:         sub.TestScore,
		BehaviorScore:     behavior,
		FinalScore:        decision.FinalScore,
		Violations:        sess.ViolationLog(),
		CertificateStatus: decision.Status,
		SubmittedAt:       time.Now().UTC(),
	}

	f.metrics.VerdictDecided(string(decision.Status))
	f.publishDecision(sess.ID(), result)

	if err := f.persist(ctx, result); err != nil {
		f.log.Error("verdict persistence failed",
			logger.SessionID(sess.ID()),
			logger.UserID(key.UserID),
			logger.CourseID(key.CourseID),
			logger.Err(err),
		)
		publish(f.bus, shared.NewEvent(shared.EventPersistenceFailure, sess.ID(), map[string]interface{}{
			"user_id":   key.UserID,
			"course_id": key.CourseID,
			"error":     err.Error(),
		}))
		return result, shared.WrapError("verdict", "Persist", shared.ErrPersistence,
			"verdict computed but not stored", err)
	}

	publish(f.bus, shared.NewEvent(shared.EventVerdictPersisted, sess.ID(), map[string]interface{}{
		"user_id":   key.UserID,
		"course_id": key.CourseID,
		"result_id": result.ID,
	}))

	f.log.Info("session finalized",
		logger.SessionID(sess.ID()),
		logger.UserID(key.UserID),
		logger.CourseID(key.CourseID),
		logger.Score(behavior),
		logger.Float64("test_score", sub.TestScore),
		logger.FinalScore(decision.FinalScore),
		logger.String("certificate_status", string(decision.Status)),
		logger.Int("violations", len(result.Violations)),
	)
	return result, nil
}

func (f *Finalizer) persist(ctx context.Context, result *session.Result) error {
	return f.retrier.Do(ctx, func(ctx context.Context) error {
		if err := f.results.Save(ctx, result); err != nil {
			if shared.IsRetryable(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		}
		return nil
	})
}

func (f *Finalizer) publishDecision(sessionID string, result *session.Result) {
	eventType := shared.EventCertificateDenied
	if result.CertificateStatus == session.CertificateIssued {
		eventType = shared.EventCertificateIssued
	}
	publish(f.bus, shared.NewEvent(eventType, sessionID, map[string]interface{}{
		"user_id":        result.UserID,
		"course_id":      result.CourseID,
		"behavior_score": result.BehaviorScore,
		"test_score":     result.TestScore,
		"final_score":    result.FinalScore,
		"violations":     violation.Summarize(result.Violations, result.BehaviorScore).TotalViolations,
	}))
}

// publish sends an event if a bus is configured. Handler errors are the
// bus's concern, not the engine's.
func publish(bus shared.EventBus, ev shared.Event) {
	if bus == nil {
		return
	}
	_ = bus.Publish(ev)
}
