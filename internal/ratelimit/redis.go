package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/lead-outreach-orchestrator/internal/metrics"
)

// admitScript checks every window key against its ceiling and only then
// increments all of them. ARGV is (ceiling, periodMillis) pairs, then a consume flag.
var admitScript = redis.NewScript(`
local n = #KEYS
local consume = tonumber(ARGV[2 * n + 1])
for i = 1, n do
  local current = tonumber(redis.call('GET', KEYS[i]) or '0')
  if current >= tonumber(ARGV[2 * i - 1]) then
    return 0
  end
end
if consume == 1 then
  for i = 1, n do
    local v = redis.call('INCR', KEYS[i])
    if v == 1 then
      redis.call('PEXPIRE', KEYS[i], tonumber(ARGV[2 * i]))
    end
  end
end
return 1
`)

// RedisLimiter shares window counters across processes through Redis. Each window is
// one key that expires after its period, so the window starts on the first admit.
type RedisLimiter struct {
	client  redis.Scripter
	name    string
	prefix  string
	windows []Window
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(client redis.Scripter, name, prefix string, windows []Window) *RedisLimiter {
	if prefix == "" {
		prefix = "outreach:ratelimit"
	}
	return &RedisLimiter{
		client:  client,
		name:    name,
		prefix:  prefix,
		windows: append([]Window(nil), windows...),
	}
}

// Admit implements Limiter.
func (l *RedisLimiter) Admit(ctx context.Context, key string) (bool, error) {
	ok, err := l.run(ctx, key, true)
	if err != nil {
		return false, err
	}
	result := "rejected"
	if ok {
		result = "admitted"
	}
	metrics.RateLimitDecisions.WithLabelValues(l.name, result).Inc()
	return ok, nil
}

// Check implements Limiter.
func (l *RedisLimiter) Check(ctx context.Context, key string) (bool, error) {
	return l.run(ctx, key, false)
}

func (l *RedisLimiter) run(ctx context.Context, key string, consume bool) (bool, error) {
	if len(l.windows) == 0 {
		return true, nil
	}
	keys := make([]string, 0, len(l.windows))
	args := make([]any, 0, 2*len(l.windows)+1)
	for _, w := range l.windows {
		keys = append(keys, l.windowKey(key, w))
		args = append(args, w.Ceiling, w.Period.Milliseconds())
	}
	flag := 0
	if consume {
		flag = 1
	}
	args = append(args, flag)

	res, err := admitScript.Run(ctx, l.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit %s: %w", l.name, err)
	}
	return res == 1, nil
}

func (l *RedisLimiter) windowKey(key string, w Window) string {
	return l.prefix + ":" + l.name + ":" + key + ":" + strconv.FormatInt(w.Period.Milliseconds(), 10)
}
