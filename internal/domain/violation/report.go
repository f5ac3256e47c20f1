package violation

import (
	"sort"
	"time"
)

// Summary condenses a session's violation log for reporting.
type Summary struct {
	TotalViolations int            `json:"total_violations"`
	CountsByType    map[string]int `json:"violation_counts"`
	CurrentScore    float64        `json:"current_score"`
	ScoreDeduction  float64        `json:"score_deduction"`
}

// TimelineEntry is one row of the chronological violation timeline.
type TimelineEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"`
	Severity       string    `json:"severity"`
	PenaltyApplied bool      `json:"penalty_applied"`
}

// Report is the detailed per-session violation report returned at
// finalization.
type Report struct {
	Summary    Summary            `json:"session_summary"`
	BySeverity map[string][]Event `json:"violations_by_severity"`
	ByType     map[string][]Event `json:"violations_by_type"`
	Timeline   []TimelineEntry    `json:"timeline"`
}

// Summarize builds a Summary from a violation log and the current score.
func Summarize(log []Event, score float64) Summary {
	counts := make(map[string]int, NumTypes)
	for _, ev := range log {
		counts[ev.Type.String()]++
	}
	return Summary{
		TotalViolations: len(log),
		CountsByType:    counts,
		CurrentScore:    score,
		ScoreDeduction:  BaseScore - score,
	}
}

// BuildReport builds the full detailed report.
func BuildReport(log []Event, score float64) Report {
	bySeverity := make(map[string][]Event)
	byType := make(map[string][]Event)
	timeline := make([]TimelineEntry, 0, len(log))

	for _, ev := range log {
		bySeverity[string(ev.Severity)] = append(bySeverity[string(ev.Severity)], ev)
		byType[ev.Type.String()] = append(byType[ev.Type.String()], ev)
		timeline = append(timeline, TimelineEntry{
			Timestamp:      ev.Timestamp,
			Type:           ev.Type.String(),
			Severity:       string(ev.Severity),
			PenaltyApplied: ev.PenaltyApplied,
		})
	}

	// The timeline must stay chronological even when callers merge logs
	// from multiple sources.
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})

	return Report{
		Summary:    Summarize(log, score),
		BySeverity: bySeverity,
		ByType:     byType,
		Timeline:   timeline,
	}
}
