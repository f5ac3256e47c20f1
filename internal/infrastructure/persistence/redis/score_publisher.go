package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/learnquest/proctoring-engine/internal/domain/session"
)

// ScorePublisher pushes live behavior score updates to a Redis Pub/Sub
// channel. Implements messaging.ScoreSink.
type ScorePublisher struct {
	client  *redis.Client
	channel string
}

// NewScorePublisher creates a publisher on the default scores channel.
func NewScorePublisher(client *redis.Client) *ScorePublisher {
	return &ScorePublisher{client: client, channel: ChannelScores}
}

type scoreUpdate struct {
	UserID        string    `json:"user_id"`
	CourseID      string    `json:"course_id"`
	BehaviorScore float64   `json:"behavior_score"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PublishScore broadcasts one score update. Delivery is best effort; a
// missed update is superseded by the next one.
func (p *ScorePublisher) PublishScore(ctx context.Context, key session.Key, score float64) error {
	data, err := json.Marshal(scoreUpdate{
		UserID:        key.UserID,
		CourseID:      key.CourseID,
		BehaviorScore: score,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal score update: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish score update: %w", err)
	}
	return nil
}

// Subscribe returns a subscription to the scores channel, used by
// operational tooling and tests.
func (p *ScorePublisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, p.channel)
}
