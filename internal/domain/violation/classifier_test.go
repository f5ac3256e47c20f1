package violation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnquest/proctoring-engine/internal/domain/observation"
)

func videoFrame(present bool, count int) observation.Result {
	return observation.NewVideo(observation.VideoResult{
		FacePresent: present,
		FaceCount:   count,
	})
}

func TestClassifier_FaceAbsent_RequiresSustainedAbsence(t *testing.T) {
	c := NewClassifier(3 * time.Second)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// A single absent frame is not a violation.
	got := c.Classify(videoFrame(false, 0), base)
	assert.Empty(t, got)

	// Still inside the persistence window.
	got = c.Classify(videoFrame(false, 0), base.Add(2*time.Second))
	assert.Empty(t, got)

	// Window elapsed: exactly one FaceAbsent.
	got = c.Classify(videoFrame(false, 0), base.Add(3*time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, FaceAbsent, got[0].Type)
	assert.Equal(t, SeverityHigh, got[0].Severity)

	// Continuous absence does not emit again.
	got = c.Classify(videoFrame(false, 0), base.Add(10*time.Second))
	assert.Empty(t, got)
}

func TestClassifier_FaceAbsent_ResetsWhenPresenceRegained(t *testing.T) {
	c := NewClassifier(3 * time.Second)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	c.Classify(videoFrame(false, 0), base)
	got := c.Classify(videoFrame(false, 0), base.Add(4*time.Second))
	require.Len(t, got, 1)

	// Presence regained resets the window; a new absence can emit again.
	got = c.Classify(videoFrame(true, 1), base.Add(5*time.Second))
	assert.Empty(t, got)

	c.Classify(videoFrame(false, 0), base.Add(6*time.Second))
	got = c.Classify(videoFrame(false, 0), base.Add(9*time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, FaceAbsent, got[0].Type)
}

func TestClassifier_FaceAbsent_MomentaryDropoutIgnored(t *testing.T) {
	c := NewClassifier(3 * time.Second)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Absence interrupted by a present frame never accumulates.
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		present := i%2 == 0
		got := c.Classify(videoFrame(present, boolToCount(present)), ts)
		assert.Empty(t, got, "tick %d", i)
	}
}

func boolToCount(present bool) int {
	if present {
		return 1
	}
	return 0
}

func TestClassifier_MultipleFaces_PerFrame(t *testing.T) {
	c := NewClassifier(0)
	now := time.Now()

	// No persistence window: every qualifying frame emits.
	for i := 0; i < 3; i++ {
		got := c.Classify(videoFrame(true, 2), now.Add(time.Duration(i)*time.Millisecond))
		require.Len(t, got, 1)
		assert.Equal(t, MultipleFaces, got[0].Type)
		assert.Equal(t, SeverityCritical, got[0].Severity)
		assert.Equal(t, 2, got[0].Details["face_count"])
	}
}

func TestClassifier_HeadTurn(t *testing.T) {
	c := NewClassifier(0)

	got := c.Classify(observation.NewVideo(observation.VideoResult{
		FacePresent:   true,
		FaceCount:     1,
		HeadTurn:      true,
		MovementScore: 0.8,
	}), time.Now())

	require.Len(t, got, 1)
	assert.Equal(t, HeadTurn, got[0].Type)
	assert.Equal(t, SeverityMedium, got[0].Severity)
}

func TestClassifier_Audio(t *testing.T) {
	tests := []struct {
		name   string
		result observation.AudioResult
		want   []Type
	}{
		{
			name:   "quiet room, no speech",
			result: observation.AudioResult{DBLevel: -60},
			want:   nil,
		},
		{
			name:   "loud background noise",
			result: observation.AudioResult{DBLevel: -25},
			want:   []Type{NoiseDetected},
		},
		{
			name:   "speech wins over noise",
			result: observation.AudioResult{DBLevel: -25, SpeechDetected: true},
			want:   []Type{SpeechDetected},
		},
		{
			name:   "speech in a quiet room",
			result: observation.AudioResult{DBLevel: -55, SpeechDetected: true},
			want:   []Type{SpeechDetected},
		},
		{
			name:   "exactly at the noise threshold is not noise",
			result: observation.AudioResult{DBLevel: -40},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(0)
			got := c.Classify(observation.NewAudio(tt.result), time.Now())

			require.Len(t, got, len(tt.want))
			for i, typ := range tt.want {
				assert.Equal(t, typ, got[i].Type)
			}
		})
	}
}

func TestClassifier_TabSwitch_Immediate(t *testing.T) {
	c := NewClassifier(0)

	got := c.Classify(observation.NewClient(observation.ClientEvent{Kind: observation.TabSwitch}), time.Now())
	require.Len(t, got, 1)
	assert.Equal(t, TabSwitch, got[0].Type)
	assert.Equal(t, SeverityHigh, got[0].Severity)
}

func TestClassifier_MultipleCandidatesFromOneFrame(t *testing.T) {
	c := NewClassifier(0)

	got := c.Classify(observation.NewVideo(observation.VideoResult{
		FacePresent: true,
		FaceCount:   3,
		HeadTurn:    true,
	}), time.Now())

	require.Len(t, got, 2)
	assert.Equal(t, MultipleFaces, got[0].Type)
	assert.Equal(t, HeadTurn, got[1].Type)
}
