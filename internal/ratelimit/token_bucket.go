package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrBucketNotConfigured = errors.New("token_bucket_not_configured")
	ErrInvalidLimit        = errors.New("invalid_rate_limit")
)

// takeToken refills the bucket from the Redis clock and takes one token.
// Values cross the Lua boundary as strings because RESP truncates numbers.
// Returns {taken, remaining, wait_ms}.
var takeToken = redis.NewScript(`
local per_ms = tonumber(ARGV[1]) / 1000
local burst = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + (now - last) * per_ms)
end

local taken = 0
local wait_ms = 0
if tokens >= 1 then
  taken = 1
  tokens = tokens - 1
else
  wait_ms = math.ceil((1 - tokens) / per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", tostring(now))
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {taken, tostring(tokens), tostring(wait_ms)}
`)

// Limit is a sustained rate with a burst allowance.
type Limit struct {
	PerSecond float64
	Burst     int
}

func (l Limit) valid() bool {
	return l.PerSecond > 0 && l.Burst > 0
}

// idleTTL lets an untouched bucket expire once it would be full again.
func (l Limit) idleTTL() time.Duration {
	secs := math.Max(1, math.Ceil(2*float64(l.Burst)/l.PerSecond))
	return time.Duration(secs) * time.Second
}

type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed bucket shared by every replica that uses
// the same key.
type TokenBucket struct {
	client redis.UniversalClient
}

func NewTokenBucket(client redis.UniversalClient) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Take consumes one token from key if one is available.
func (b *TokenBucket) Take(ctx context.Context, key string, limit Limit) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, ErrBucketNotConfigured
	}
	if key == "" || !limit.valid() {
		return Decision{}, ErrInvalidLimit
	}

	reply, err := takeToken.Run(ctx, b.client, []string{key},
		limit.PerSecond, limit.Burst, limit.idleTTL().Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(reply) != 3 {
		return Decision{}, errors.New("token bucket: unexpected script reply")
	}

	taken, _ := reply[0].(int64)
	waitMs := replyFloat(reply[2])
	return Decision{
		Allowed:    taken == 1,
		Remaining:  replyFloat(reply[1]),
		RetryAfter: time.Duration(waitMs) * time.Millisecond,
	}, nil
}

func replyFloat(v interface{}) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
