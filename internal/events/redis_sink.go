package events

import (
	"context"
	"encoding/json"
	"time"

	"chip-settlement/internal/config"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// StreamWriter is the subset of the redis client the sink uses.
type StreamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends every event to a capped Redis stream for the
// presentation layer.
type RedisSink struct {
	client  StreamWriter
	stream  string
	maxLen  int64
	tries   uint
	timeout time.Duration
}

func NewRedisSink(client StreamWriter, cfg config.RedisConfig) *RedisSink {
	stream := cfg.EventsStream
	if stream == "" {
		stream = "settlement:events"
	}
	return &RedisSink{client: client, stream: stream, maxLen: cfg.StreamMaxLen, tries: 5, timeout: 2 * time.Second}
}

// NewRedisClient parses REDIS_URL into a client.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func (s *RedisSink) Handle(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		sinkWrites.WithLabelValues("encode_error").Inc()
		log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("encode event payload")
		return
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":      ev.ID,
			"kind":    string(ev.Kind),
			"key":     ev.Key,
			"address": ev.Address,
			"payload": string(payload),
		},
	}
	_, err = backoff.Retry(ctx, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.client.XAdd(callCtx, args).Result()
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(s.tries))
	if err != nil {
		sinkWrites.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("kind", string(ev.Kind)).Str("key", ev.Key).Msg("redis stream append failed")
		return
	}
	sinkWrites.WithLabelValues("ok").Inc()
}
