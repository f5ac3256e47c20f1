package observation

import "context"

// VideoDetector analyzes a single encoded video frame.
// Implementations live in infrastructure; they may time out or fail, and the
// caller treats such errors as a missed tick rather than a session failure.
type VideoDetector interface {
	Analyze(ctx context.Context, frame []byte) (VideoResult, error)
}

// AudioDetector analyzes a single chunk of encoded PCM audio.
type AudioDetector interface {
	Analyze(ctx context.Context, chunk []byte) (AudioResult, error)
}
