package detector

import (
	"context"
	"errors"

	"github.com/learnquest/proctoring-engine/internal/domain/observation"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/pkg/circuitbreaker"
)

// VideoClient calls the face analysis service. Implements
// observation.VideoDetector.
type VideoClient struct {
	*client
}

// NewVideoClient creates a video detector client.
func NewVideoClient(cfg Config) *VideoClient {
	return &VideoClient{client: newClient("video-detector", cfg)}
}

type videoResponse struct {
	FacePresent   bool    `json:"face_present"`
	FaceCount     int     `json:"face_count"`
	Confidence    float64 `json:"confidence"`
	HeadTurn      bool    `json:"head_turn"`
	MovementScore float64 `json:"movement_score"`
}

// Analyze submits one encoded frame for face analysis.
func (c *VideoClient) Analyze(ctx context.Context, frame []byte) (observation.VideoResult, error) {
	var resp videoResponse
	if err := c.post(ctx, "/analyze/frame", frame, &resp); err != nil {
		return observation.VideoResult{}, asDetectorError(err)
	}

	return observation.VideoResult{
		FacePresent:   resp.FacePresent,
		FaceCount:     resp.FaceCount,
		Confidence:    resp.Confidence,
		HeadTurn:      resp.HeadTurn,
		MovementScore: resp.MovementScore,
	}, nil
}

// asDetectorError maps breaker rejections onto the detector error space so
// callers can uniformly treat them as missed ticks.
func asDetectorError(err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return shared.WrapError("detector", "Analyze", shared.ErrDetectorFailure,
			"detector circuit open", err)
	}
	return err
}
