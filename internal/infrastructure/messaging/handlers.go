package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/learnquest/proctoring-engine/internal/domain/session"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
)

const handlerTimeout = 5 * time.Second

// AuditWriter subscribes to violation events and appends them to the
// persistent audit log, independently of the copy embedded in the final
// verdict record.
type AuditWriter struct {
	repo   session.ViolationRepository
	logger *slog.Logger
}

// NewAuditWriter creates an audit writer backed by the given repository.
func NewAuditWriter(repo session.ViolationRepository, logger *slog.Logger) *AuditWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditWriter{repo: repo, logger: logger}
}

// Register subscribes the writer to the bus.
func (a *AuditWriter) Register(bus shared.EventBus) error {
	return bus.Subscribe(shared.EventViolationRecorded, a.handle)
}

func (a *AuditWriter) handle(ev shared.Event) error {
	payload := ev.Payload()

	v, ok := payload["event"].(violation.Event)
	if !ok {
		return errors.New("violation event payload missing typed event")
	}
	key := session.Key{
		UserID:   stringField(payload, "user_id"),
		CourseID: stringField(payload, "course_id"),
	}
	if err := key.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := a.repo.Append(ctx, key, v); err != nil {
		a.logger.Error("audit append failed",
			"user_id", key.UserID,
			"course_id", key.CourseID,
			"violation", v.Type.String(),
			"error", err,
		)
		return err
	}
	return nil
}

// ScoreSink receives live behavior score updates, typically pushed to a
// Redis channel for dashboards.
type ScoreSink interface {
	PublishScore(ctx context.Context, key session.Key, score float64) error
}

// ScoreRelay forwards score update events to a ScoreSink.
type ScoreRelay struct {
	sink   ScoreSink
	logger *slog.Logger
}

// NewScoreRelay creates a relay for the given sink.
func NewScoreRelay(sink ScoreSink, logger *slog.Logger) *ScoreRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoreRelay{sink: sink, logger: logger}
}

// Register subscribes the relay to the bus.
func (r *ScoreRelay) Register(bus shared.EventBus) error {
	return bus.Subscribe(shared.EventScoreUpdated, r.handle)
}

func (r *ScoreRelay) handle(ev shared.Event) error {
	payload := ev.Payload()
	key := session.Key{
		UserID:   stringField(payload, "user_id"),
		CourseID: stringField(payload, "course_id"),
	}
	score, ok := payload["score"].(float64)
	if !ok {
		return errors.New("score update payload missing score")
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := r.sink.PublishScore(ctx, key, score); err != nil {
		r.logger.Error("score publish failed",
			"user_id", key.UserID,
			"course_id", key.CourseID,
			"error", err,
		)
		return err
	}
	return nil
}

func stringField(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}
