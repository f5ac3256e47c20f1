// Package observation defines the typed output contract of the external
// detector models. The engine consumes these results; it never looks inside
// the models themselves. This package has zero external dependencies.
package observation

// Kind discriminates the variants of a Result.
type Kind int

const (
	// KindVideo is a per-frame result from the video detector.
	KindVideo Kind = iota
	// KindAudio is a per-chunk result from the audio detector.
	KindAudio
	// KindClient is an event reported directly by the exam client.
	KindClient
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

// VideoResult is the output of one video frame analysis.
type VideoResult struct {
	// FacePresent reports whether at least one face was found in the frame.
	FacePresent bool

	// FaceCount is the number of faces found.
	FaceCount int

	// Confidence is the detector's confidence in [0,1] for the primary face.
	Confidence float64

	// HeadTurn reports a significant horizontal head movement between
	// consecutive frames.
	HeadTurn bool

	// MovementScore is the normalized inter-frame movement in [0,1].
	MovementScore float64
}

// AudioResult is the output of one audio chunk analysis.
type AudioResult struct {
	// DBLevel is the RMS loudness of the chunk in decibels.
	DBLevel float64

	// SpeechDetected reports voice activity in the chunk.
	SpeechDetected bool

	// NoiseLevel is a coarse label derived from DBLevel: low, medium, high.
	NoiseLevel string
}

// ClientEventKind enumerates events the exam client reports itself.
type ClientEventKind string

const (
	// TabSwitch means the candidate left the exam browser tab.
	TabSwitch ClientEventKind = "tab_switch"
)

// ClientEvent is an observation reported by the exam client rather than a
// detector model.
type ClientEvent struct {
	Kind ClientEventKind
}

// Result is the tagged union delivered to the classifier, one per inbound
// message. Exactly one of Video, Audio, Client is set, matching Kind.
type Result struct {
	Kind   Kind
	Video  *VideoResult
	Audio  *AudioResult
	Client *ClientEvent
}

// NewVideo wraps a VideoResult.
func NewVideo(v VideoResult) Result {
	return Result{Kind: KindVideo, Video: &v}
}

// NewAudio wraps an AudioResult.
func NewAudio(a AudioResult) Result {
	return Result{Kind: KindAudio, Audio: &a}
}

// NewClient wraps a ClientEvent.
func NewClient(c ClientEvent) Result {
	return Result{Kind: KindClient, Client: &c}
}

// NoiseLevelFor returns the coarse noise label for a dB level.
// Bands: below -50 dB is low, below -30 dB is medium, anything louder is high.
func NoiseLevelFor(dbLevel float64) string {
	switch {
	case dbLevel < -50:
		return "low"
	case dbLevel < -30:
		return "medium"
	default:
		return "high"
	}
}
