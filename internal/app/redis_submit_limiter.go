package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The window starts with the first submit; INCR keeps the expiry set by SET.
var submitWindowScript = redis.NewScript(`
redis.call("SET", KEYS[1], 0, "PX", ARGV[1], "NX")
local attempts = redis.call("INCR", KEYS[1])
return {attempts, redis.call("PTTL", KEYS[1])}
`)

// SubmitDecision is the outcome of one submit against a payer's window.
type SubmitDecision struct {
	Allowed    bool
	Attempts   int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up for the Retry-After header.
func (d SubmitDecision) RetryAfterSeconds() int {
	seconds := int(math.Ceil(d.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// RedisSubmitLimiter caps checkout submissions per payer across service instances.
// The in-process queue only serializes calls within one instance.
type RedisSubmitLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisSubmitLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisSubmitLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "directory:checkout"
	}
	if window < time.Second {
		window = time.Minute
	}
	return &RedisSubmitLimiter{
		client: client,
		prefix: trimmedPrefix,
		limit:  limit,
		window: window,
	}
}

func (l *RedisSubmitLimiter) key(userID string) string {
	return fmt.Sprintf("%s:submit:%s", l.prefix, strings.TrimSpace(userID))
}

// Allow counts one submit for the payer. Without a client, a limit or a payer id
// every submit is allowed.
func (l *RedisSubmitLimiter) Allow(ctx context.Context, userID string) (SubmitDecision, error) {
	if l == nil || l.client == nil || l.limit <= 0 || strings.TrimSpace(userID) == "" {
		return SubmitDecision{Allowed: true}, nil
	}

	reply, err := submitWindowScript.Run(ctx, l.client, []string{l.key(userID)}, l.window.Milliseconds()).Result()
	if err != nil {
		return SubmitDecision{}, fmt.Errorf("failed to count checkout submit: %w", err)
	}
	return decideSubmit(reply, l.limit, l.window)
}

func decideSubmit(reply interface{}, limit int, window time.Duration) (SubmitDecision, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 2 {
		return SubmitDecision{}, fmt.Errorf("unexpected submit window reply: %v", reply)
	}
	attempts, ok := values[0].(int64)
	if !ok {
		return SubmitDecision{}, fmt.Errorf("unexpected submit count type %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return SubmitDecision{}, fmt.Errorf("unexpected submit window ttl type %T", values[1])
	}

	retryAfter := time.Duration(ttlMs) * time.Millisecond
	if ttlMs < 0 {
		retryAfter = window
	}
	return SubmitDecision{
		Allowed:    attempts <= int64(limit),
		Attempts:   int(attempts),
		RetryAfter: retryAfter,
	}, nil
}
