package violation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_FirstOccurrenceIsBillable(t *testing.T) {
	p := NewPolicy(DefaultRules())

	d := p.Evaluate(TabSwitch, time.Now())
	assert.True(t, d.Billable)
	assert.Equal(t, 5, d.Points)
}

func TestPolicy_CooldownSuppressesRepeats(t *testing.T) {
	p := NewPolicy(DefaultRules())
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Three detections 1s apart with a 5s cooldown: only the first bills.
	first := p.Evaluate(FaceAbsent, base)
	second := p.Evaluate(FaceAbsent, base.Add(1*time.Second))
	third := p.Evaluate(FaceAbsent, base.Add(2*time.Second))

	assert.True(t, first.Billable)
	assert.Equal(t, 5, first.Points)
	assert.False(t, second.Billable)
	assert.Zero(t, second.Points)
	assert.False(t, third.Billable)
}

func TestPolicy_BillableAgainAfterCooldown(t *testing.T) {
	p := NewPolicy(DefaultRules())
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, p.Evaluate(NoiseDetected, base).Billable)
	assert.False(t, p.Evaluate(NoiseDetected, base.Add(4999*time.Millisecond)).Billable)

	// Exactly at the cooldown boundary the window has elapsed.
	again := p.Evaluate(NoiseDetected, base.Add(5*time.Second))
	assert.True(t, again.Billable)
	assert.Equal(t, 3, again.Points)
}

func TestPolicy_CooldownScopedPerType(t *testing.T) {
	p := NewPolicy(DefaultRules())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, p.Evaluate(FaceAbsent, now).Billable)

	// A FaceAbsent cooldown never suppresses a TabSwitch penalty.
	assert.True(t, p.Evaluate(TabSwitch, now.Add(time.Second)).Billable)
	assert.True(t, p.Evaluate(SpeechDetected, now.Add(2*time.Second)).Billable)
}

func TestPolicy_SuppressedViolationDoesNotExtendCooldown(t *testing.T) {
	p := NewPolicy(DefaultRules())
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	p.Evaluate(HeadTurn, base)
	// Suppressed hits at 3s and 4.5s must not push the window forward.
	p.Evaluate(HeadTurn, base.Add(3*time.Second))
	p.Evaluate(HeadTurn, base.Add(4500*time.Millisecond))

	assert.True(t, p.Evaluate(HeadTurn, base.Add(5*time.Second)).Billable)
}

func TestPolicy_AtMostOneBillablePerWindow(t *testing.T) {
	rules := DefaultRules()
	p := NewPolicy(rules)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	window := rules.Rule(TabSwitch).Cooldown
	var billedTimes []time.Time

	// A burst of 200 events, 100ms apart.
	for i := 0; i < 200; i++ {
		ts := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if p.Evaluate(TabSwitch, ts).Billable {
			billedTimes = append(billedTimes, ts)
		}
	}

	// Consecutive billable penalties are at least one cooldown apart.
	for i := 1; i < len(billedTimes); i++ {
		gap := billedTimes[i].Sub(billedTimes[i-1])
		assert.GreaterOrEqual(t, gap, window)
	}
	assert.NotEmpty(t, billedTimes)
}

func TestRuleTable_Defaults(t *testing.T) {
	rules := DefaultRules()

	assert.NoError(t, rules.Validate())
	assert.Equal(t, 5, rules.Rule(FaceAbsent).Points)
	assert.Equal(t, 10, rules.Rule(MultipleFaces).Points)
	assert.Equal(t, 3, rules.Rule(NoiseDetected).Points)
	assert.Equal(t, 5, rules.Rule(SpeechDetected).Points)
	assert.Equal(t, 5, rules.Rule(TabSwitch).Points)
	assert.Equal(t, 3, rules.Rule(HeadTurn).Points)

	for i := 0; i < NumTypes; i++ {
		assert.Equal(t, 5*time.Second, rules.Rule(Type(i)).Cooldown)
	}
}

func TestParseType(t *testing.T) {
	for i := 0; i < NumTypes; i++ {
		typ := Type(i)
		parsed, err := ParseType(typ.String())
		assert.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	_, err := ParseType("wandering_eyes")
	assert.Error(t, err)
}
