package messaging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnquest/proctoring-engine/internal/domain/session"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
)

func testBus(t *testing.T) *InMemoryEventBus {
	t.Helper()
	cfg := DefaultInMemoryEventBusConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := NewInMemoryEventBus(cfg)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func violationEvent(sessionID string, v violation.Event) shared.Event {
	return shared.NewEvent(shared.EventViolationRecorded, sessionID, map[string]interface{}{
		"user_id":   "u1",
		"course_id": "go-101",
		"event":     v,
	})
}

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := testBus(t)

	var got []violation.Type
	require.NoError(t, bus.Subscribe(shared.EventViolationRecorded, func(ev shared.Event) error {
		v := ev.Payload()["event"].(violation.Event)
		got = append(got, v.Type)
		return nil
	}))

	order := []violation.Type{violation.TabSwitch, violation.NoiseDetected, violation.FaceAbsent}
	for _, typ := range order {
		require.NoError(t, bus.Publish(violationEvent("s1", violation.Event{
			Type:      typ,
			Timestamp: time.Now().UTC(),
		})))
	}

	// Synchronous mode: delivery completes before Publish returns.
	assert.Equal(t, order, got)
}

func TestBusRejectsAfterClose(t *testing.T) {
	bus := testBus(t)
	require.NoError(t, bus.Close())

	err := bus.Publish(violationEvent("s1", violation.Event{Type: violation.TabSwitch}))
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

type recordingViolations struct {
	mu      sync.Mutex
	keys    []session.Key
	events  []violation.Event
	failErr error
}

func (r *recordingViolations) Append(_ context.Context, key session.Key, ev violation.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.keys = append(r.keys, key)
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingViolations) ListByKey(context.Context, session.Key, int) ([]session.AuditEntry, error) {
	return nil, nil
}

func TestAuditWriterAppendsViolations(t *testing.T) {
	bus := testBus(t)
	repo := &recordingViolations{}
	writer := NewAuditWriter(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, writer.Register(bus))

	ev := violation.Event{
		Type:           violation.MultipleFaces,
		Timestamp:      time.Now().UTC(),
		Severity:       violation.SeverityHigh,
		PenaltyApplied: true,
		Points:         10,
	}
	require.NoError(t, bus.Publish(violationEvent("s1", ev)))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.events, 1)
	assert.Equal(t, session.Key{UserID: "u1", CourseID: "go-101"}, repo.keys[0])
	assert.Equal(t, violation.MultipleFaces, repo.events[0].Type)
	assert.True(t, repo.events[0].PenaltyApplied)
}

func TestAuditWriterRejectsMalformedPayload(t *testing.T) {
	bus := testBus(t)
	repo := &recordingViolations{}
	writer := NewAuditWriter(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, writer.Register(bus))

	// Payload without the typed event: the bus logs the handler error,
	// nothing reaches the repository.
	_ = bus.Publish(shared.NewEvent(shared.EventViolationRecorded, "s1", map[string]interface{}{
		"user_id": "u1",
	}))

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Empty(t, repo.events)
}

type recordingSink struct {
	mu     sync.Mutex
	scores []float64
}

func (r *recordingSink) PublishScore(_ context.Context, _ session.Key, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, score)
	return nil
}

func TestScoreRelayForwardsUpdates(t *testing.T) {
	bus := testBus(t)
	sink := &recordingSink{}
	relay := NewScoreRelay(sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, relay.Register(bus))

	require.NoError(t, bus.Publish(shared.NewEvent(shared.EventScoreUpdated, "s1", map[string]interface{}{
		"user_id":   "u1",
		"course_id": "go-101",
		"score":     92.5,
	})))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.scores, 1)
	assert.Equal(t, 92.5, sink.scores[0])
}
