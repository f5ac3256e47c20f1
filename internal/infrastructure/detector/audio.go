package detector

import (
	"context"

	"github.com/learnquest/proctoring-engine/internal/domain/observation"
)

// AudioClient calls the audio analysis service. Implements
// observation.AudioDetector.
type AudioClient struct {
	*client
}

// NewAudioClient creates an audio detector client.
func NewAudioClient(cfg Config) *AudioClient {
	return &AudioClient{client: newClient("audio-detector", cfg)}
}

type audioResponse struct {
	DBLevel        float64 `json:"db_level"`
	SpeechDetected bool    `json:"speech_detected"`
}

// Analyze submits one chunk of encoded audio for loudness and voice
// activity analysis.
func (c *AudioClient) Analyze(ctx context.Context, chunk []byte) (observation.AudioResult, error) {
	var resp audioResponse
	if err := c.post(ctx, "/analyze/audio", chunk, &resp); err != nil {
		return observation.AudioResult{}, asDetectorError(err)
	}

	return observation.AudioResult{
		DBLevel:        resp.DBLevel,
		SpeechDetected: resp.SpeechDetected,
		NoiseLevel:     observation.NoiseLevelFor(resp.DBLevel),
	}, nil
}
