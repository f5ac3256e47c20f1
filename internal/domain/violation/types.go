// Package violation contains the proctoring core: violation classification,
// the penalty/cooldown policy and the behavior score aggregator. It is pure
// domain logic with zero external dependencies; all state here belongs to a
// single session and is driven by its owning goroutine.
package violation

import (
	"encoding/json"
	"time"

	"github.com/learnquest/proctoring-engine/internal/domain/shared"
)

// Type enumerates the violations the engine can record.
// The numeric values index the fixed-size penalty and cooldown tables, which
// keeps the policy exhaustively checkable at compile time.
type Type int

const (
	FaceAbsent Type = iota
	MultipleFaces
	NoiseDetected
	SpeechDetected
	TabSwitch
	HeadTurn

	numTypes
)

// NumTypes is the number of violation types.
const NumTypes = int(numTypes)

var typeNames = [NumTypes]string{
	FaceAbsent:     "face_absent",
	MultipleFaces:  "multiple_faces",
	NoiseDetected:  "noise_detected",
	SpeechDetected: "speech_detected",
	TabSwitch:      "tab_switch",
	HeadTurn:       "head_turn",
}

// String returns the wire name of the violation type.
func (t Type) String() string {
	if t < 0 || int(t) >= NumTypes {
		return "unknown"
	}
	return typeNames[t]
}

// IsValid reports whether the type is one of the known violations.
func (t Type) IsValid() bool {
	return t >= 0 && int(t) < NumTypes
}

// ParseType parses a wire name into a Type.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return 0, shared.ErrUnknownViolationType
}

// MarshalJSON encodes the type by its wire name.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the type from its wire name.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Severity grades how serious a violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether the severity is a known level.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// DefaultSeverity returns the severity assigned to each violation type.
func (t Type) DefaultSeverity() Severity {
	switch t {
	case FaceAbsent, TabSwitch:
		return SeverityHigh
	case MultipleFaces:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Event is one classified violation, appended to the session's log.
// Events are immutable after creation; PenaltyApplied records whether the
// policy billed this occurrence or suppressed it inside a cooldown window.
type Event struct {
	Type           Type           `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	Severity       Severity       `json:"severity"`
	PenaltyApplied bool           `json:"penalty_applied"`
	Points         int            `json:"points"`
	Details        map[string]any `json:"details,omitempty"`
}

// PenaltyRule maps a violation type to its penalty and cooldown.
type PenaltyRule struct {
	// Points deducted from the behavior score per billable occurrence.
	Points int

	// Cooldown is the minimum time between billable penalties of this type.
	Cooldown time.Duration
}

// RuleTable is the process-wide, read-only penalty configuration, indexed
// by Type. Safe for unsynchronized concurrent reads.
type RuleTable [NumTypes]PenaltyRule

// Rule returns the rule for the given type.
func (rt RuleTable) Rule(t Type) PenaltyRule {
	return rt[t]
}

// Validate checks that every type has a sane rule.
func (rt RuleTable) Validate() error {
	for i, r := range rt {
		if r.Points < 0 {
			return shared.NewDomainError("violation", "Validate", shared.ErrValueOutOfRange,
				"negative penalty for "+Type(i).String())
		}
		if r.Cooldown < 0 {
			return shared.NewDomainError("violation", "Validate", shared.ErrValueOutOfRange,
				"negative cooldown for "+Type(i).String())
		}
	}
	return nil
}

// DefaultRules returns the production penalty table.
func DefaultRules() RuleTable {
	const cooldown = 5 * time.Second
	return RuleTable{
		FaceAbsent:     {Points: 5, Cooldown: cooldown},
		MultipleFaces:  {Points: 10, Cooldown: cooldown},
		NoiseDetected:  {Points: 3, Cooldown: cooldown},
		SpeechDetected: {Points: 5, Cooldown: cooldown},
		TabSwitch:      {Points: 5, Cooldown: cooldown},
		HeadTurn:       {Points: 3, Cooldown: cooldown},
	}
}
