package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// IPRateLimiter is an in-process token bucket per client address. It serves
// single-instance deployments and stands in when Redis is unreachable.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
	ips      *ClientIPResolver
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps * 2)
	}
	return &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
	}
}

func (l *IPRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastGC) > l.idleTTL {
		for k, v := range l.limiters {
			if now.Sub(v.lastSeen) > l.idleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}

	v, ok := l.limiters[key]
	if !ok {
		v = &ipLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

// TrustProxies keys requests through res. Without it the limiter keys by the
// direct peer address.
func (l *IPRateLimiter) TrustProxies(res *ClientIPResolver) *IPRateLimiter {
	l.ips = res
	return l
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(l.ips.ClientIP(r)) {
			tooManyRequests(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RedisRateLimiter is a fixed-window limiter shared by every instance.
type RedisRateLimiter struct {
	rdb      redis.Scripter
	limit    int
	window   time.Duration
	prefix   string
	fallback *IPRateLimiter
	log      *slog.Logger
	ips      *ClientIPResolver
}

var redisFixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// NewRedisRateLimiter builds a limiter allowing limit requests per window
// and client. When Redis fails the request is judged by fallback, or
// rejected with 503 if fallback is nil.
func NewRedisRateLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string, fallback *IPRateLimiter, log *slog.Logger) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "physiodesk:rl"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRateLimiter{
		rdb:      rdb,
		limit:    limit,
		window:   window,
		prefix:   prefix,
		fallback: fallback,
		log:      log.With(slog.String("component", "http.ratelimit")),
	}
}

func (rl *RedisRateLimiter) TrustProxies(res *ClientIPResolver) *RedisRateLimiter {
	rl.ips = res
	return rl
}

func (rl *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := rl.ips.ClientIP(r)
		count, err := rl.incr(r.Context(), rl.prefix+":"+client)
		if err != nil {
			rl.log.Warn("redis rate limiter error", slog.Any("err", err))
			if rl.fallback == nil {
				writeError(w, r, http.StatusServiceUnavailable, "unavailable", "rate limiter unavailable")
				return
			}
			if !rl.fallback.Allow(client) {
				tooManyRequests(w, r)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if count > int64(rl.limit) {
			tooManyRequests(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RedisRateLimiter) incr(ctx context.Context, key string) (int64, error) {
	res, err := redisFixedWindowScript.Run(ctx, rl.rdb, []string{key}, rl.window.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "1")
	writeError(w, r, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
}

// RedisReadyCheck pings the limiter's Redis.
func RedisReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
