package violation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScore_StartsAtBase(t *testing.T) {
	s := NewScore()
	assert.Equal(t, 100.0, s.Value())
}

func TestScore_ApplyDeducts(t *testing.T) {
	s := NewScore()

	assert.Equal(t, 95.0, s.Apply(5))
	assert.Equal(t, 85.0, s.Apply(10))
	assert.Equal(t, 85.0, s.Value())
}

func TestScore_FloorsAtZero(t *testing.T) {
	s := NewScore()

	for i := 0; i < 30; i++ {
		v := s.Apply(10)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
	assert.Equal(t, 0.0, s.Value())
}

func TestScore_MonotonicallyNonIncreasing(t *testing.T) {
	s := NewScore()
	prev := s.Value()

	for _, points := range []int{0, 3, 5, 0, 10, 3} {
		v := s.Apply(points)
		assert.LessOrEqual(t, v, prev)
		prev = v
	}
}

func TestReplay_ReproducesLiveScore(t *testing.T) {
	s := NewScore()
	now := time.Now()

	var log []Event
	record := func(typ Type, billable bool, points int) {
		ev := Event{Type: typ, Timestamp: now, Severity: typ.DefaultSeverity(), PenaltyApplied: billable}
		if billable {
			ev.Points = points
			s.Apply(points)
		}
		log = append(log, ev)
	}

	record(FaceAbsent, true, 5)
	record(FaceAbsent, false, 0)
	record(FaceAbsent, false, 0)
	record(TabSwitch, true, 5)
	record(NoiseDetected, true, 3)
	record(NoiseDetected, false, 0)

	assert.Equal(t, s.Value(), Replay(log))
	assert.Equal(t, 87.0, Replay(log))
}

func TestReplay_EmptyLog(t *testing.T) {
	assert.Equal(t, 100.0, Replay(nil))
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	log := []Event{
		{Type: FaceAbsent, Timestamp: now, Severity: SeverityHigh, PenaltyApplied: true, Points: 5},
		{Type: FaceAbsent, Timestamp: now.Add(time.Second), Severity: SeverityHigh},
		{Type: TabSwitch, Timestamp: now.Add(2 * time.Second), Severity: SeverityHigh, PenaltyApplied: true, Points: 5},
	}

	sum := Summarize(log, 90)
	assert.Equal(t, 3, sum.TotalViolations)
	assert.Equal(t, 2, sum.CountsByType["face_absent"])
	assert.Equal(t, 1, sum.CountsByType["tab_switch"])
	assert.Equal(t, 90.0, sum.CurrentScore)
	assert.Equal(t, 10.0, sum.ScoreDeduction)
}

func TestBuildReport_TimelineChronological(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	log := []Event{
		{Type: TabSwitch, Timestamp: base.Add(2 * time.Second), Severity: SeverityHigh, PenaltyApplied: true, Points: 5},
		{Type: FaceAbsent, Timestamp: base, Severity: SeverityHigh, PenaltyApplied: true, Points: 5},
		{Type: NoiseDetected, Timestamp: base.Add(time.Second), Severity: SeverityMedium},
	}

	rep := BuildReport(log, 90)

	assert.Len(t, rep.Timeline, 3)
	assert.Equal(t, "face_absent", rep.Timeline[0].Type)
	assert.Equal(t, "noise_detected", rep.Timeline[1].Type)
	assert.Equal(t, "tab_switch", rep.Timeline[2].Type)

	assert.Len(t, rep.BySeverity["high"], 2)
	assert.Len(t, rep.BySeverity["medium"], 1)
	assert.Len(t, rep.ByType["face_absent"], 1)
}
