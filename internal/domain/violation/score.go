package violation

// BaseScore is the behavior score every session starts with.
const BaseScore = 100.0

// Score is the live behavior score of one session. It starts at BaseScore,
// only ever decreases, and is clamped to [0, BaseScore]. There is no
// re-credit mechanism.
type Score struct {
	value float64
}

// NewScore returns a fresh score at BaseScore.
func NewScore() Score {
	return Score{value: BaseScore}
}

// Apply deducts points, flooring at zero, and returns the new value.
func (s *Score) Apply(points int) float64 {
	v := s.value - float64(points)
	if v < 0 {
		v = 0
	}
	s.value = v
	return v
}

// Value returns the current score.
func (s Score) Value() float64 {
	return s.value
}

// Replay recomputes the behavior score from a violation log, starting at
// BaseScore and applying every billed penalty in order. For any session the
// replayed value must equal the live aggregate; tests rely on this to catch
// drift between the log and the score.
func Replay(log []Event) float64 {
	s := NewScore()
	for _, ev := range log {
		if ev.PenaltyApplied {
			s.Apply(ev.Points)
		}
	}
	return s.Value()
}
