package violation

import "time"

// Decision is the policy's verdict on one classified violation.
type Decision struct {
	// Billable is true when the violation is outside its cooldown window
	// and deducts points.
	Billable bool

	// Points to deduct when billable, zero otherwise.
	Points int
}

// Policy applies the penalty/cooldown rules for one session. Cooldowns are
// scoped per (session, violation type): a FaceAbsent penalty never
// suppresses a TabSwitch penalty. The last-billed table is a fixed-size
// array indexed by Type, so every violation type has a slot by construction.
//
// Like the classifier, a Policy belongs to exactly one session and is only
// driven by that session's goroutine.
type Policy struct {
	rules      RuleTable
	lastBilled [NumTypes]time.Time
}

// NewPolicy creates a policy over the given read-only rule table.
func NewPolicy(rules RuleTable) *Policy {
	return &Policy{rules: rules}
}

// Evaluate decides whether a violation of type t occurring at now is
// billable. A billable decision records now as the type's last penalty
// time; a suppressed violation leaves the cooldown clock untouched.
func (p *Policy) Evaluate(t Type, now time.Time) Decision {
	rule := p.rules[t]

	last := p.lastBilled[t]
	if !last.IsZero() && now.Sub(last) < rule.Cooldown {
		return Decision{Billable: false}
	}

	p.lastBilled[t] = now
	return Decision{Billable: true, Points: rule.Points}
}

// LastBilled returns the last billable penalty time for a type, zero if the
// type has never been billed.
func (p *Policy) LastBilled(t Type) time.Time {
	return p.lastBilled[t]
}

// Rules returns the policy's rule table.
func (p *Policy) Rules() RuleTable {
	return p.rules
}
