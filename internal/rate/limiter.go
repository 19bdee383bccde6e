package rate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decision is the result of a check. RetryAfter is rounded up to whole
// seconds and is zero when Allowed.
type Decision struct {
	Allowed           bool
	RetryAfter        time.Duration
	AttemptsRemaining int
}

// Limiter counts attempts per (identifier, action) in a Redis sorted set.
type Limiter struct {
	redis    redis.UniversalClient
	policies PolicySource
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, policies PolicySource, opts ...Option) *Limiter {
	l := &Limiter{
		redis:    redisClient,
		policies: policies,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check reports whether identifier may perform action now. It does not
// record anything; call Record for the attempt itself.
func (l *Limiter) Check(ctx context.Context, identifier string, action Action) (Decision, error) {
	p, err := l.policies.Policy(ctx, action)
	if err != nil {
		return Decision{}, err
	}

	now := l.now()
	key := attemptKey(action, identifier)
	cutoff := now.Add(-p.Window).UnixMilli()

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	blockCmd := pipe.PTTL(ctx, blockKey(action, identifier))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	count := int(countCmd.Val())
	blocked := blockCmd.Val()

	if count < p.MaxAttempts && blocked <= 0 {
		return Decision{Allowed: true, AttemptsRemaining: p.MaxAttempts - count}, nil
	}

	var retry time.Duration
	if count >= p.MaxAttempts {
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			oldestAt := time.UnixMilli(int64(oldest[0].Score))
			retry = oldestAt.Add(p.Window).Sub(now)
		}
		if p.Block > 0 && blocked <= 0 {
			// First denial of a burst starts the block.
			if err := l.redis.Set(ctx, blockKey(action, identifier), "1", p.Block).Err(); err != nil {
				return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			blocked = p.Block
		}
	}
	if blocked > retry {
		retry = blocked
	}

	return Decision{Allowed: false, RetryAfter: ceilSeconds(retry)}, nil
}

// Record appends one attempt at the current time.
func (l *Limiter) Record(ctx context.Context, identifier string, action Action) error {
	p, err := l.policies.Policy(ctx, action)
	if err != nil {
		return err
	}

	now := l.now()
	key := attemptKey(action, identifier)

	pipe := l.redis.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.PExpire(ctx, key, p.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// enforceScript trims the window, counts, honors the block marker and, only
// when allowed, appends the attempt. It returns {allowed, remaining, retryMs}.
const enforceScript = `
local key = KEYS[1]
local bkey = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local block = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', key)
local blocked = redis.call('PTTL', bkey)

if count < max and blocked <= 0 then
  redis.call('ZADD', key, now, ARGV[5])
  redis.call('PEXPIRE', key, window)
  return {1, max - count, 0}
end

local retry = 0
if count >= max then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if #oldest > 0 then
    retry = tonumber(oldest[2]) + window - now
  end
  if block > 0 and blocked <= 0 then
    redis.call('SET', bkey, '1', 'PX', block)
    blocked = block
  end
end
if blocked > retry then
  retry = blocked
end
return {0, 0, retry}
`

var enforceLua = redis.NewScript(enforceScript)

// Enforce checks and, when allowed, records in one atomic step. A denial
// returns the decision together with ErrRateLimited.
func (l *Limiter) Enforce(ctx context.Context, identifier string, action Action) (Decision, error) {
	p, err := l.policies.Policy(ctx, action)
	if err != nil {
		return Decision{}, err
	}

	res, err := enforceLua.Run(ctx, l.redis,
		[]string{attemptKey(action, identifier), blockKey(action, identifier)},
		l.now().UnixMilli(),
		p.Window.Milliseconds(),
		p.MaxAttempts,
		p.Block.Milliseconds(),
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}

	if res[0] == 1 {
		return Decision{Allowed: true, AttemptsRemaining: int(res[1])}, nil
	}
	return Decision{RetryAfter: ceilSeconds(time.Duration(res[2]) * time.Millisecond)}, ErrRateLimited
}

// Reset clears the attempt log and any block for identifier.
func (l *Limiter) Reset(ctx context.Context, identifier string, action Action) error {
	if !Known(action) {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if err := l.redis.Del(ctx, attemptKey(action, identifier), blockKey(action, identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func attemptKey(action Action, identifier string) string {
	return "rl:" + string(action) + ":" + identifier
}

func blockKey(action Action, identifier string) string {
	return "rlb:" + string(action) + ":" + identifier
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
