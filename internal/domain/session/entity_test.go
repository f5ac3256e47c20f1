package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnquest/proctoring-engine/internal/domain/observation"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(Key{UserID: "u1", CourseID: "c1"}, Config{
		Rules:             violation.DefaultRules(),
		FaceAbsenceWindow: 3 * time.Second,
		TestDuration:      time.Hour,
	}, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return s
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Key{UserID: "u1"}, Config{Rules: violation.DefaultRules()}, time.Now())
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = New(Key{CourseID: "c1"}, Config{Rules: violation.DefaultRules()}, time.Now())
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestSession_Lifecycle(t *testing.T) {
	s := newTestSession(t)
	assert.Equal(t, StateCreated, s.State())

	require.NoError(t, s.Activate())
	assert.Equal(t, StateActive, s.State())

	// Activating twice is a state transition error.
	assert.ErrorIs(t, s.Activate(), shared.ErrStateTransition)

	require.NoError(t, s.BeginFinalize())
	assert.Equal(t, StateFinalizing, s.State())

	s.Close()
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_IngestBeforeActive(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Ingest(observation.NewClient(observation.ClientEvent{Kind: observation.TabSwitch}), time.Now())
	assert.ErrorIs(t, err, shared.ErrSessionNotActive)
}

func TestSession_IngestAfterFinalizeRejected(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Activate())
	require.NoError(t, s.BeginFinalize())

	scoreBefore := s.BehaviorScore()
	_, err := s.Ingest(observation.NewClient(observation.ClientEvent{Kind: observation.TabSwitch}), time.Now())

	assert.ErrorIs(t, err, shared.ErrSessionClosed)
	assert.Equal(t, scoreBefore, s.BehaviorScore(), "finalize must act as a mutation barrier")
	assert.Empty(t, s.ViolationLog())
}

func TestSession_BeginFinalizeOnce(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Activate())

	assert.NoError(t, s.BeginFinalize())
	assert.ErrorIs(t, s.BeginFinalize(), shared.ErrSessionClosed)
}

func TestSession_CooldownScenario(t *testing.T) {
	// Three FaceAbsent detections 1s apart with a 5s cooldown and 5-point
	// penalty: only the first is billable, score drops 100 -> 95, the log
	// holds 3 entries and exactly one has the penalty applied.
	s := newTestSession(t)
	require.NoError(t, s.Activate())
	base := s.CreatedAt()

	absent := observation.NewVideo(observation.VideoResult{FacePresent: false})

	// Walk past the persistence window so each tick classifies, then force
	// re-absences by interleaving presence.
	emit := func(at time.Time) []violation.Event {
		s.Ingest(observation.NewVideo(observation.VideoResult{FacePresent: true, FaceCount: 1}), at.Add(-4*time.Second))
		s.Ingest(absent, at.Add(-3*time.Second))
		evs, err := s.Ingest(absent, at)
		require.NoError(t, err)
		return evs
	}

	first := emit(base.Add(10 * time.Second))
	second := emit(base.Add(11 * time.Second))
	third := emit(base.Add(12 * time.Second))

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	require.Len(t, third, 1)

	assert.True(t, first[0].PenaltyApplied)
	assert.False(t, second[0].PenaltyApplied)
	assert.False(t, third[0].PenaltyApplied)

	assert.Equal(t, 95.0, s.BehaviorScore())

	log := s.ViolationLog()
	assert.Len(t, log, 3)
	billed := 0
	for _, ev := range log {
		if ev.PenaltyApplied {
			billed++
		}
	}
	assert.Equal(t, 1, billed)
}

func TestSession_ScoreBoundsAfterEveryMutation(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Activate())
	base := s.CreatedAt()

	for i := 0; i < 500; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		var res observation.Result
		switch i % 3 {
		case 0:
			res = observation.NewVideo(observation.VideoResult{FacePresent: true, FaceCount: 2})
		case 1:
			res = observation.NewAudio(observation.AudioResult{DBLevel: -20})
		default:
			res = observation.NewClient(observation.ClientEvent{Kind: observation.TabSwitch})
		}

		_, err := s.Ingest(res, ts)
		require.NoError(t, err)

		score := s.BehaviorScore()
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 100.0)
	}
}

func TestSession_ReplayMatchesLiveScore(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Activate())
	base := s.CreatedAt()

	for i := 0; i < 60; i++ {
		ts := base.Add(time.Duration(i) * 700 * time.Millisecond)
		s.Ingest(observation.NewAudio(observation.AudioResult{DBLevel: -25}), ts)
		s.Ingest(observation.NewClient(observation.ClientEvent{Kind: observation.TabSwitch}), ts)
	}

	assert.Equal(t, s.BehaviorScore(), violation.Replay(s.ViolationLog()))
}

func TestSession_DeadlinePassed(t *testing.T) {
	s := newTestSession(t)
	created := s.CreatedAt()

	assert.False(t, s.DeadlinePassed(created.Add(59*time.Minute)))
	assert.True(t, s.DeadlinePassed(created.Add(time.Hour)))
	assert.True(t, s.DeadlinePassed(created.Add(2*time.Hour)))
}

func TestSession_ViolationLogIsACopy(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Activate())

	s.Ingest(observation.NewClient(observation.ClientEvent{Kind: observation.TabSwitch}), time.Now())

	log := s.ViolationLog()
	require.Len(t, log, 1)
	log[0].PenaltyApplied = false

	assert.True(t, s.ViolationLog()[0].PenaltyApplied)
}
