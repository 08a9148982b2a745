package requestlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/router-for-me/PolicyRouter/internal/models"
)

// StreamClient is the subset of go-redis used by RedisStreamSink.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink mirrors entries onto a capped Redis stream for external consumers.
type RedisStreamSink struct {
	client StreamClient
	stream string
	maxLen int64
}

// NewRedisStreamSink builds a stream sink. maxLen <= 0 leaves the stream uncapped.
func NewRedisStreamSink(client StreamClient, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Record implements Sink.
func (s *RedisStreamSink) Record(ctx context.Context, entry *models.RequestLog) error {
	if s == nil || s.client == nil {
		return errors.New("requestlog: nil redis client")
	}
	if entry == nil {
		return nil
	}
	payload, errMarshal := json.Marshal(entry)
	if errMarshal != nil {
		return fmt.Errorf("requestlog: encode entry: %w", errMarshal)
	}
	ruleID := ""
	if entry.RuleID != nil {
		ruleID = strconv.FormatUint(*entry.RuleID, 10)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"request_id": entry.RequestID,
			"kind":       entry.Kind,
			"rule_id":    ruleID,
			"status":     entry.ResponseStatus,
			"created_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
			"entry":      string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if errAdd := s.client.XAdd(ctx, args).Err(); errAdd != nil {
		return fmt.Errorf("requestlog: xadd %s: %w", s.stream, errAdd)
	}
	return nil
}
