package violation

import (
	"time"

	"github.com/learnquest/proctoring-engine/internal/domain/observation"
)

// NoiseThresholdDB is the ambient loudness above which a chunk without
// speech counts as background noise.
const NoiseThresholdDB = -40.0

// DefaultFaceAbsenceWindow is how long presence must be continuously false
// before a FaceAbsent violation is emitted. A single absent frame is noise,
// not a violation.
const DefaultFaceAbsenceWindow = 3 * time.Second

// Candidate is a classified violation before the policy has decided whether
// it is billable. Classification never touches the score.
type Candidate struct {
	Type     Type
	Severity Severity
	Details  map[string]any
}

// Classifier maps raw observation results to violation candidates for one
// session. It keeps the per-session absence state needed for the FaceAbsent
// persistence window, so it must only be driven by the session's own
// goroutine.
type Classifier struct {
	absenceWindow time.Duration

	absentSince     time.Time // zero while a face is present
	absenceReported bool
}

// NewClassifier creates a classifier with the given face-absence window.
// A non-positive window falls back to the default.
func NewClassifier(absenceWindow time.Duration) *Classifier {
	if absenceWindow <= 0 {
		absenceWindow = DefaultFaceAbsenceWindow
	}
	return &Classifier{absenceWindow: absenceWindow}
}

// Classify inspects one observation result and returns zero or more
// violation candidates. A video frame can legitimately yield more than one
// (multiple faces plus a head turn); most results yield none.
func (c *Classifier) Classify(res observation.Result, now time.Time) []Candidate {
	switch res.Kind {
	case observation.KindVideo:
		if res.Video == nil {
			return nil
		}
		return c.classifyVideo(*res.Video, now)
	case observation.KindAudio:
		if res.Audio == nil {
			return nil
		}
		return classifyAudio(*res.Audio)
	case observation.KindClient:
		if res.Client == nil {
			return nil
		}
		return classifyClient(*res.Client)
	default:
		return nil
	}
}

func (c *Classifier) classifyVideo(v observation.VideoResult, now time.Time) []Candidate {
	var out []Candidate

	if v.FacePresent {
		c.absentSince = time.Time{}
		c.absenceReported = false
	} else {
		if c.absentSince.IsZero() {
			c.absentSince = now
		}
		// Emit once per continuous absence, only after the window has
		// fully elapsed.
		if !c.absenceReported && now.Sub(c.absentSince) >= c.absenceWindow {
			c.absenceReported = true
			out = append(out, Candidate{
				Type:     FaceAbsent,
				Severity: FaceAbsent.DefaultSeverity(),
				Details: map[string]any{
					"face_count":     v.FaceCount,
					"absent_seconds": now.Sub(c.absentSince).Seconds(),
				},
			})
		}
	}

	if v.FaceCount > 1 {
		out = append(out, Candidate{
			Type:     MultipleFaces,
			Severity: MultipleFaces.DefaultSeverity(),
			Details:  map[string]any{"face_count": v.FaceCount},
		})
	}

	if v.HeadTurn {
		out = append(out, Candidate{
			Type:     HeadTurn,
			Severity: HeadTurn.DefaultSeverity(),
			Details:  map[string]any{"movement_score": v.MovementScore},
		})
	}

	return out
}

func classifyAudio(a observation.AudioResult) []Candidate {
	if a.SpeechDetected {
		return []Candidate{{
			Type:     SpeechDetected,
			Severity: SpeechDetected.DefaultSeverity(),
			Details:  map[string]any{"db_level": a.DBLevel},
		}}
	}

	if a.DBLevel > NoiseThresholdDB {
		level := a.NoiseLevel
		if level == "" {
			level = observation.NoiseLevelFor(a.DBLevel)
		}
		return []Candidate{{
			Type:     NoiseDetected,
			Severity: NoiseDetected.DefaultSeverity(),
			Details: map[string]any{
				"db_level":    a.DBLevel,
				"noise_level": level,
			},
		}}
	}

	return nil
}

func classifyClient(e observation.ClientEvent) []Candidate {
	if e.Kind != observation.TabSwitch {
		return nil
	}
	return []Candidate{{
		Type:     TabSwitch,
		Severity: TabSwitch.DefaultSeverity(),
		Details:  map[string]any{"immediate_penalty": true},
	}}
}
