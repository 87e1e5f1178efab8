package audit

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/curriculumgen/internal/generation/engine"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

// AttemptEvent is the JSON message published for each attempt.
type AttemptEvent struct {
	RunID      string    `json:"run_id"`
	Key        string    `json:"key"`
	Task       string    `json:"task"`
	Attempt    int       `json:"attempt"`
	Max        int       `json:"max_attempts"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	InvalidRef string    `json:"invalid_ref,omitempty"`
	At         time.Time `json:"at"`
}

// RedisPublisher publishes attempts on a pub/sub channel for live progress views. Publish
// failures are logged and never fail the run.
type RedisPublisher struct {
	rdb     goredis.UniversalClient
	channel string
	log     *logger.Logger
}

func NewRedisPublisher(rdb goredis.UniversalClient, channel string, log *logger.Logger) *RedisPublisher {
	if channel == "" {
		channel = "curriculumgen:attempts"
	}
	return &RedisPublisher{rdb: rdb, channel: channel, log: log.With("service", "RedisAttemptPublisher")}
}

func (p *RedisPublisher) Append(ctx context.Context, rec engine.AttemptRecord) error {
	raw, err := json.Marshal(AttemptEvent{
		RunID:      rec.RunID,
		Key:        rec.Key,
		Task:       rec.Task,
		Attempt:    rec.Attempt,
		Max:        rec.MaxAttempts,
		Outcome:    string(rec.Outcome),
		Detail:     rec.Detail,
		InvalidRef: rec.InvalidRef,
		At:         rec.At,
	})
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		p.log.Warn("attempt publish failed", "key", rec.Key, "attempt", rec.Attempt, "error", err)
	}
	return nil
}
