package rest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeScripter counts per key the way the fixed window script does.
type fakeScripter struct {
	redis.Scripter
	counts map[string]int64
	err    error
}

func (f *fakeScripter) eval(ctx context.Context, keys []string) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.counts[keys[0]]++
	cmd.SetVal(f.counts[keys[0]])
	return cmd
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	return f.eval(ctx, keys)
}

func (f *fakeScripter) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return f.eval(ctx, keys)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/v1/appointments/x", nil)
	req.RemoteAddr = ip + ":40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRedisRateLimiter_FixedWindow(t *testing.T) {
	rdb := &fakeScripter{counts: map[string]int64{}}
	rl := NewRedisRateLimiter(rdb, 2, time.Minute, "test", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		if code := hit(h, "203.0.113.7"); code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, code)
		}
	}
	if code := hit(h, "203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", code)
	}
	if code := hit(h, "198.51.100.2"); code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", code)
	}
	if rdb.counts["test:203.0.113.7"] != 3 {
		t.Fatalf("counter = %d, want 3", rdb.counts["test:203.0.113.7"])
	}
}

func TestRedisRateLimiter_RedisFailure(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rdb := &fakeScripter{counts: map[string]int64{}, err: errors.New("dial tcp: connection refused")}

	closed := NewRedisRateLimiter(rdb, 10, time.Minute, "test", nil, log).Middleware(okHandler())
	if code := hit(closed, "203.0.113.7"); code != http.StatusServiceUnavailable {
		t.Fatalf("no fallback status = %d, want 503", code)
	}

	fallback := NewIPRateLimiter(1, 1)
	withFallback := NewRedisRateLimiter(rdb, 10, time.Minute, "test", fallback, log).Middleware(okHandler())
	if code := hit(withFallback, "203.0.113.7"); code != http.StatusOK {
		t.Fatalf("fallback first status = %d, want 200", code)
	}
	if code := hit(withFallback, "203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("fallback second status = %d, want 429", code)
	}
}

func TestIPRateLimiter_PerClientBuckets(t *testing.T) {
	l := NewIPRateLimiter(1, 2)
	h := l.Middleware(okHandler())

	if hit(h, "a") != http.StatusOK || hit(h, "a") != http.StatusOK {
		t.Fatalf("burst of 2 should pass")
	}
	if code := hit(h, "a"); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", code)
	}
	if code := hit(h, "b"); code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", code)
	}
}

func TestClientIPResolver(t *testing.T) {
	res, err := NewClientIPResolver([]string{"10.0.0.0/8", "192.0.2.1"})
	if err != nil {
		t.Fatalf("NewClientIPResolver error: %v", err)
	}

	tests := []struct {
		name     string
		resolver *ClientIPResolver
		remote   string
		xff      string
		realIP   string
		want     string
	}{
		{"no proxies ignores headers", nil, "203.0.113.7:5555", "198.51.100.9", "198.51.100.8", "203.0.113.7"},
		{"untrusted peer ignores headers", res, "203.0.113.7:5555", "198.51.100.9", "", "203.0.113.7"},
		{"trusted peer uses forwarded hop", res, "10.1.2.3:5555", "198.51.100.9", "", "198.51.100.9"},
		{"spoofed left hop is skipped", res, "10.1.2.3:5555", "1.2.3.4, 198.51.100.9, 10.0.0.5", "", "198.51.100.9"},
		{"trusted peer falls back to real ip", res, "192.0.2.1:5555", "", "198.51.100.7", "198.51.100.7"},
		{"all hops trusted keeps peer", res, "10.1.2.3:5555", "10.0.0.9", "", "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := tt.resolver.ClientIP(req); got != tt.want {
				t.Fatalf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := NewClientIPResolver([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected error for invalid proxy")
	}
}

func TestIPRateLimiter_IgnoresSpoofedForwardedFor(t *testing.T) {
	h := NewIPRateLimiter(1, 1).Middleware(okHandler())

	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/appointments/x", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send("1.1.1.1"); code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", code)
	}
	if code := send("2.2.2.2"); code != http.StatusTooManyRequests {
		t.Fatalf("rotated header status = %d, want 429", code)
	}
}
