// Package session contains the proctoring session aggregate: its lifecycle
// state machine, the verdict model, and the repository contracts implemented
// in infrastructure.
//
// A Session is owned exclusively by its engine worker for its whole
// lifetime. The entity itself is not safe for concurrent use; the
// single-writer discipline lives one layer up.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnquest/proctoring-engine/internal/domain/observation"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
)

// Key identifies one exam attempt: at most one active session may exist per
// key at any time.
type Key struct {
	UserID   string
	CourseID string
}

// Validate checks both parts are non-empty.
func (k Key) Validate() error {
	if k.UserID == "" || k.CourseID == "" {
		return shared.NewDomainError("session", "Validate", shared.ErrInvalidID,
			"user and course IDs must be non-empty")
	}
	return nil
}

// String returns "userID/courseID", used in logs and cache keys.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.UserID, k.CourseID)
}

// State is the session lifecycle state.
type State int

const (
	// StateCreated - the session exists but the media channel is not yet up.
	StateCreated State = iota
	// StateActive - observation events are flowing and scored.
	StateActive
	// StateFinalizing - the verdict is being computed; further events are
	// rejected. Entering this state is a barrier: no score mutation after it.
	StateFinalizing
	// StateClosed - terminal; the session awaits eviction from the registry.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config carries the per-session knobs set at creation time.
type Config struct {
	// Rules is the shared read-only penalty table.
	Rules violation.RuleTable

	// FaceAbsenceWindow is the continuous-absence threshold for FaceAbsent.
	FaceAbsenceWindow time.Duration

	// TestDuration bounds the exam; the deadline timer finalizes the
	// session when it elapses without a submission.
	TestDuration time.Duration
}

// Session is one exam attempt's proctoring context.
type Session struct {
	id        string
	key       Key
	createdAt time.Time
	deadline  time.Time

	state       State
	lastEventAt time.Time

	classifier *violation.Classifier
	policy     *violation.Policy
	score      violation.Score
	log        []violation.Event
}

// New constructs a session in StateCreated.
func New(key Key, cfg Config, now time.Time) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Rules.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:          uuid.NewString(),
		key:         key,
		createdAt:   now,
		state:       StateCreated,
		lastEventAt: now,
		classifier:  violation.NewClassifier(cfg.FaceAbsenceWindow),
		policy:      violation.NewPolicy(cfg.Rules),
		score:       violation.NewScore(),
	}
	if cfg.TestDuration > 0 {
		s.deadline = now.Add(cfg.TestDuration)
	}
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Key returns the (user, course) identity.
func (s *Session) Key() Key { return s.key }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Deadline returns the test-duration deadline, zero if unbounded.
func (s *Session) Deadline() time.Time { return s.deadline }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// LastEventAt returns the arrival time of the most recent inbound event,
// used by the inactivity sweep.
func (s *Session) LastEventAt() time.Time { return s.lastEventAt }

// BehaviorScore returns the current behavior score.
func (s *Session) BehaviorScore() float64 { return s.score.Value() }

// ViolationCount returns the number of recorded violation events.
func (s *Session) ViolationCount() int { return len(s.log) }

// ViolationLog returns a copy of the append-only violation log.
func (s *Session) ViolationLog() []violation.Event {
	out := make([]violation.Event, len(s.log))
	copy(out, s.log)
	return out
}

// Activate moves Created -> Active once the media channel is established.
func (s *Session) Activate() error {
	if s.state != StateCreated {
		return shared.NewDomainError("session", "Activate", shared.ErrStateTransition,
			"cannot activate from state "+s.state.String())
	}
	s.state = StateActive
	return nil
}

// Ingest runs one observation through the classify -> evaluate -> apply
// pipeline and returns the violation events recorded for it, if any. The
// caller guarantees events of the same session are ingested one at a time.
func (s *Session) Ingest(res observation.Result, now time.Time) ([]violation.Event, error) {
	switch s.state {
	case StateActive:
	case StateCreated:
		return nil, shared.ErrSessionNotActive
	default:
		return nil, shared.ErrSessionClosed
	}

	s.lastEventAt = now

	candidates := s.classifier.Classify(res, now)
	if len(candidates) == 0 {
		return nil, nil
	}

	recorded := make([]violation.Event, 0, len(candidates))
	for _, cand := range candidates {
		decision := s.policy.Evaluate(cand.Type, now)

		ev := violation.Event{
			Type:           cand.Type,
			Timestamp:      now,
			Severity:       cand.Severity,
			PenaltyApplied: decision.Billable,
			Details:        cand.Details,
		}
		if decision.Billable {
			ev.Points = decision.Points
			s.score.Apply(decision.Points)
		}

		s.log = append(s.log, ev)
		recorded = append(recorded, ev)
	}

	return recorded, nil
}

// DeadlinePassed reports whether the test-duration deadline has elapsed.
func (s *Session) DeadlinePassed(now time.Time) bool {
	return !s.deadline.IsZero() && !now.Before(s.deadline)
}

// BeginFinalize moves the session into StateFinalizing. It succeeds exactly
// once; a second call reports the session closed so racing finalize paths
// (submission, deadline, inactivity sweep) collapse to one verdict.
func (s *Session) BeginFinalize() error {
	switch s.state {
	case StateCreated, StateActive:
		s.state = StateFinalizing
		return nil
	default:
		return shared.ErrSessionClosed
	}
}

// Close moves Finalizing -> Closed. Idempotent.
func (s *Session) Close() {
	s.state = StateClosed
}
