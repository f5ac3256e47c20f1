package session

import (
	"time"

	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
)

// Weighting of the final score and the certificate threshold.
const (
	BehaviorWeight = 0.4
	TestWeight     = 0.6

	// CertificateThreshold is inclusive: a final score of exactly 85.0
	// earns the certificate.
	CertificateThreshold = 85.0
)

// Difficulty grades the submitted test.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether the difficulty is a known level.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// TestSubmission is the externally graded test result, arriving once per
// session.
type TestSubmission struct {
	TestScore  float64
	Difficulty Difficulty
}

// Validate checks the submission.
func (t TestSubmission) Validate() error {
	if t.TestScore < 0 || t.TestScore > 100 {
		return shared.ErrInvalidScore
	}
	if t.Difficulty != "" && !t.Difficulty.IsValid() {
		return shared.NewDomainError("verdict", "Validate", shared.ErrInvalidInput,
			"unknown difficulty "+string(t.Difficulty))
	}
	return nil
}

// CertificateStatus is the outcome of an exam attempt.
type CertificateStatus string

const (
	CertificateIssued    CertificateStatus = "issued"
	CertificateNotIssued CertificateStatus = "not_issued"
)

// CertificateDecision is computed once at finalize and immutable after.
type CertificateDecision struct {
	FinalScore float64           `json:"final_score"`
	Status     CertificateStatus `json:"certificate_status"`
}

// Decide combines the behavior and test scores into the final verdict.
// Both inputs are clamped to [0,100] before weighting.
func Decide(behaviorScore, testScore float64) CertificateDecision {
	b := clamp(behaviorScore)
	t := clamp(testScore)

	final := BehaviorWeight*b + TestWeight*t

	status := CertificateNotIssued
	if final >= CertificateThreshold {
		status = CertificateIssued
	}
	return CertificateDecision{FinalScore: final, Status: status}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Result is the persisted verdict record: the test outcome, the behavior
// outcome, and the embedded violation log for the attempt.
type Result struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	CourseID          string            `json:"course_id"`
	Difficulty        Difficulty        `json:"difficulty,omitempty"`
	TestScore         float64           `json:"test_score"`
	BehaviorScore     float64           `json:"behavior_score"`
	FinalScore        float64           `json:"final_score"`
	Violations        []violation.Event `json:"violations"`
	CertificateStatus CertificateStatus `json:"certificate_status"`
	SubmittedAt       time.Time         `json:"submitted_at"`
}

// Decision reconstructs the certificate decision held by the record.
func (r *Result) Decision() CertificateDecision {
	return CertificateDecision{FinalScore: r.FinalScore, Status: r.CertificateStatus}
}
