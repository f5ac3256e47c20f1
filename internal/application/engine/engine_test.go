package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnquest/proctoring-engine/internal/domain/observation"
	"github.com/learnquest/proctoring-engine/internal/domain/session"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
	"github.com/learnquest/proctoring-engine/pkg/logger"
)

type memResults struct {
	mu       sync.Mutex
	saved    []*session.Result
	failN    int
	attempts int
}

func (m *memResults) Save(_ context.Context, r *session.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failN != 0 {
		if m.failN > 0 {
			m.failN--
		}
		return shared.WrapError("verdict", "Save", shared.ErrServiceUnavailable, "db down", errors.New("connection refused"))
	}
	cp := *r
	m.saved = append(m.saved, &cp)
	return nil
}

func (m *memResults) LatestByKey(_ context.Context, key session.Key) (*session.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].UserID == key.UserID && m.saved[i].CourseID == key.CourseID {
			return m.saved[i], nil
		}
	}
	return nil, shared.ErrVerdictNotFound
}

func (m *memResults) ListByUser(_ context.Context, userID string, limit int) ([]*session.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*session.Result
	for i := len(m.saved) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.saved[i].UserID == userID {
			out = append(out, m.saved[i])
		}
	}
	return out, nil
}

func (m *memResults) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

type countingMetrics struct {
	NopMetrics
	dropped atomic.Int64
}

func (c *countingMetrics) EventDropped(string) { c.dropped.Add(1) }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
}

func testRegistry(t *testing.T, cfg Config, repo *memResults) *Registry {
	t.Helper()
	log := testLogger()
	fin := NewFinalizer(repo, nil, NopMetrics{}, log)
	return NewRegistry(cfg, fin, nil, NopMetrics{}, log)
}

func mustAttach(t *testing.T, r *Registry, key session.Key) *Worker {
	t.Helper()
	w, err := r.GetOrCreate(key, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, w.Attach())
	return w
}

// ingest pushes one observation and waits until the worker processed it.
func ingest(t *testing.T, w *Worker, res observation.Result) (Status, []violation.Event) {
	t.Helper()
	done := make(chan struct{})
	var st Status
	var recorded []violation.Event
	err := w.Enqueue(res, func(s Status, evs []violation.Event) {
		st = s
		recorded = evs
		close(done)
	})
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process the event in time")
	}
	return st, recorded
}

func tabSwitch() observation.Result {
	return observation.NewClient(observation.ClientEvent{Kind: observation.TabSwitch})
}

func TestRegistryCreatesOneSessionPerKey(t *testing.T) {
	r := testRegistry(t, DefaultConfig(), &memResults{})
	key := session.Key{UserID: "u1", CourseID: "go-101"}

	w1, err := r.GetOrCreate(key, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, w1.Attach())

	_, err = r.GetOrCreate(key, time.Now().UTC())
	assert.ErrorIs(t, err, shared.ErrDuplicateSession)
	assert.Equal(t, 1, r.Len())

	other, err := r.GetOrCreate(session.Key{UserID: "u2", CourseID: "go-101"}, time.Now().UTC())
	require.NoError(t, err)
	assert.NotEqual(t, w1.Status().SessionID, other.Status().SessionID)
}

func TestRegistryRejectsInvalidKey(t *testing.T) {
	r := testRegistry(t, DefaultConfig(), &memResults{})
	_, err := r.GetOrCreate(session.Key{UserID: "", CourseID: "go-101"}, time.Now().UTC())
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestReconnectResumesSameSession(t *testing.T) {
	r := testRegistry(t, DefaultConfig(), &memResults{})
	key := session.Key{UserID: "u1", CourseID: "go-101"}

	w := mustAttach(t, r, key)
	st, _ := ingest(t, w, tabSwitch())
	assert.Equal(t, 95.0, st.BehaviorScore)

	w.Detach(time.Now().UTC())

	again, err := r.GetOrCreate(key, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, again.Attach())
	assert.Equal(t, st.SessionID, again.Status().SessionID)
	assert.Equal(t, 95.0, again.Status().BehaviorScore)
}

func TestSecondAttachRejected(t *testing.T) {
	r := testRegistry(t, DefaultConfig(), &memResults{})
	w := mustAttach(t, r, session.Key{UserID: "u1", CourseID: "go-101"})
	assert.ErrorIs(t, w.Attach(), shared.ErrAlreadyAttached)
}

func TestWorkerScoresViolations(t *testing.T) {
	r := testRegistry(t, DefaultConfig(), &memResults{})
	w := mustAttach(t, r, session.Key{UserID: "u1", CourseID: "go-101"})

	st, recorded := ingest(t, w, tabSwitch())
	require.Len(t, recorded, 1)
	assert.Equal(t, violation.TabSwitch, recorded[0].Type)
	assert.True(t, recorded[0].PenaltyApplied)
	assert.Equal(t, 95.0, st.BehaviorScore)
	assert.Equal(t, 1, st.Violations)

	// Inside the cooldown: logged but not billed again.
	st, recorded = ingest(t, w, tabSwitch())
	require.Len(t, recorded, 1)
	assert.False(t, recorded[0].PenaltyApplied)
	assert.Equal(t, 95.0, st.BehaviorScore)
	assert.Equal(t, 2, st.Violations)
}

func TestWorkerIgnoresCleanFrames(t *testing.T) {
	r := testRegistry(t, DefaultConfig(), &memResults{})
	w := mustAttach(t, r, session.Key{UserID: "u1", CourseID: "go-101"})

	st, recorded := ingest(t, w, observation.NewVideo(observation.VideoResult{FacePresent: true, FaceCount: 1}))
	assert.Empty(t, recorded)
	assert.Equal(t, 100.0, st.BehaviorScore)

	st, recorded = ingest(t, w, observation.NewAudio(observation.AudioResult{DBLevel: -60}))
	assert.Empty(t, recorded)
	assert.Equal(t, 100.0, st.BehaviorScore)
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	metrics := &countingMetrics{}
	repo := &memResults{}
	log := testLogger()
	fin := NewFinalizer(repo, nil, NopMetrics{}, log)

	sess, err := session.New(session.Key{UserID: "u1", CourseID: "go-101"},
		session.Config{Rules: violation.DefaultRules()}, time.Now().UTC())
	require.NoError(t, err)

	// Not started: nothing consumes the queue.
	w := newWorker(sess, cfg, fin, nil, metrics, log, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Enqueue(tabSwitch(), nil))
	}
	assert.Equal(t, int64(3), metrics.dropped.Load())
}

func TestFinalizePersistsVerdict(t *testing.T) {
	repo := &memResults{}
	r := testRegistry(t, DefaultConfig(), repo)
	key := session.Key{UserID: "u1", CourseID: "go-101"}
	w := mustAttach(t, r, key)

	ingest(t, w, tabSwitch())

	result, err := w.Finalize(context.Background(), session.TestSubmission{TestScore: 90, Difficulty: session.DifficultyMedium})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 95.0, result.BehaviorScore)
	assert.Equal(t, 90.0, result.TestScore)
	assert.InDelta(t, 92.0, result.FinalScore, 0.0001)
	assert.Equal(t, session.CertificateIssued, result.CertificateStatus)
	assert.Len(t, result.Violations, 1)

	require.Equal(t, 1, repo.count())
	stored, err := repo.LatestByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, result.ID, stored.ID)

	// Worker terminates and is evicted after finalize.
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after finalize")
	}
	_, ok := r.Lookup(key)
	assert.False(t, ok)
}

func TestFinalizeDeniesBelowThreshold(t *testing.T) {
	repo := &memResults{}
	r := testRegistry(t, DefaultConfig(), repo)
	w := mustAttach(t, r, session.Key{UserID: "u1", CourseID: "go-101"})

	result, err := w.Finalize(context.Background(), session.TestSubmission{TestScore: 70})
	require.NoError(t, err)
	assert.InDelta(t, 82.0, result.FinalScore, 0.0001)
	assert.Equal(t, session.CertificateNotIssued, result.CertificateStatus)
}

func TestFinalizeRejectsInvalidSubmission(t *testing.T) {
	r := testRegistry(t, DefaultConfig(), &memResults{})
	w := mustAttach(t, r, session.Key{UserID: "u1", CourseID: "go-101"})

	_, err := w.Finalize(context.Background(), session.TestSubmission{TestScore: 120})
	assert.ErrorIs(t, err, shared.ErrInvalidScore)

	// The invalid submission must not have consumed the finalize barrier.
	result, err := w.Finalize(context.Background(), session.TestSubmission{TestScore: 100})
	require.NoError(t, err)
	assert.Equal(t, session.CertificateIssued, result.CertificateStatus)
}

func TestConcurrentFinalizeProducesOneVerdict(t *testing.T) {
	repo := &memResults{}
	r := testRegistry(t, DefaultConfig(), repo)
	w := mustAttach(t, r, session.Key{UserID: "u1", CourseID: "go-101"})

	const callers = 8
	var wg sync.WaitGroup
	var successes atomic.Int64
	var closed atomic.Int64
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Finalize(context.Background(), session.TestSubmission{TestScore: 90})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, shared.ErrSessionClosed):
				closed.Add(1)
			default:
				t.Errorf("unexpected finalize error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes.Load())
	assert.Equal(t, int64(callers-1), closed.Load())
	assert.Equal(t, 1, repo.count())
}

func TestFinalizeReturnsDecisionWhenPersistenceFails(t *testing.T) {
	repo := &memResults{failN: -1}
	r := testRegistry(t, DefaultConfig(), repo)
	w := mustAttach(t, r, session.Key{UserID: "u1", CourseID: "go-101"})

	result, err := w.Finalize(context.Background(), session.TestSubmission{TestScore: 90})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrPersistence)
	require.NotNil(t, result)
	assert.Equal(t, session.CertificateIssued, result.CertificateStatus)
	assert.InDelta(t, 94.0, result.FinalScore, 0.0001)
	assert.Equal(t, 0, repo.count())
	assert.GreaterOrEqual(t, repo.attempts, 3)
}

func TestFinalizeRetriesTransientWriteFailure(t *testing.T) {
	repo := &memResults{failN: 2}
	r := testRegistry(t, DefaultConfig(), repo)
	w := mustAttach(t, r, session.Key{UserID: "u1", CourseID: "go-101"})

	result, err := w.Finalize(context.Background(), session.TestSubmission{TestScore: 90})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, repo.count())
	assert.Equal(t, 3, repo.attempts)
}

func TestEventsAfterFinalizeAreRejected(t *testing.T) {
	repo := &memResults{}
	r := testRegistry(t, DefaultConfig(), repo)
	w := mustAttach(t, r, session.Key{UserID: "u1", CourseID: "go-101"})

	_, err := w.Finalize(context.Background(), session.TestSubmission{TestScore: 90})
	require.NoError(t, err)

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.ErrorIs(t, w.Enqueue(tabSwitch(), nil), shared.ErrSessionClosed)
}

func TestSweepExpiresDisconnectedSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectGrace = 50 * time.Millisecond
	repo := &memResults{}
	r := testRegistry(t, cfg, repo)
	key := session.Key{UserID: "u1", CourseID: "go-101"}
	w := mustAttach(t, r, key)
	ingest(t, w, tabSwitch())

	now := time.Now().UTC()
	w.Detach(now)

	// Still inside the grace window.
	assert.Equal(t, 0, r.SweepIdle(now.Add(10*time.Millisecond)))

	assert.Equal(t, 1, r.SweepIdle(now.Add(time.Second)))
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after sweep")
	}

	stored, err := repo.LatestByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 0.0, stored.TestScore)
	assert.Equal(t, 95.0, stored.BehaviorScore)
	assert.Equal(t, session.CertificateNotIssued, stored.CertificateStatus)
	assert.Equal(t, 0, r.Len())
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	repo := &memResults{}
	r := testRegistry(t, cfg, repo)
	w := mustAttach(t, r, session.Key{UserID: "u1", CourseID: "go-101"})

	assert.Equal(t, 1, r.SweepIdle(time.Now().UTC().Add(time.Minute)))
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after sweep")
	}
	assert.Equal(t, 1, repo.count())
}

func TestDeadlineFinalizesSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TestDuration = 50 * time.Millisecond
	repo := &memResults{}
	r := testRegistry(t, cfg, repo)
	key := session.Key{UserID: "u1", CourseID: "go-101"}
	w := mustAttach(t, r, key)

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop at the deadline")
	}

	stored, err := repo.LatestByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, session.CertificateNotIssued, stored.CertificateStatus)
}

func TestShutdownDrainsAllSessions(t *testing.T) {
	repo := &memResults{}
	r := testRegistry(t, DefaultConfig(), repo)
	for _, user := range []string{"u1", "u2", "u3"} {
		mustAttach(t, r, session.Key{UserID: user, CourseID: "go-101"})
	}
	require.Equal(t, 3, r.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 3, repo.count())

	_, err := r.GetOrCreate(session.Key{UserID: "u4", CourseID: "go-101"}, time.Now().UTC())
	assert.Error(t, err)
}
