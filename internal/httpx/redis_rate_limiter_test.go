package httpx

import (
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/alicebob/miniredis/v2"
)

func newRedisLimiter(t *testing.T) (RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter, err := NewRedisRateLimiter(mr.Addr(), "", 0, logger)
	if err != nil {
		t.Fatalf("redis rate limiter: %v", err)
	}
	t.Cleanup(limiter.Close)
	return limiter, mr
}

func TestRedisLimiterEnforcesWindow(t *testing.T) {
	limiter, _ := newRedisLimiter(t)

	if d := limiter.Allow("user:1", 2, time.Minute); !d.allowed {
		t.Fatal("first request must pass")
	}
	if d := limiter.Allow("user:1", 2, time.Minute); !d.allowed {
		t.Fatal("second request must pass")
	}
	d := limiter.Allow("user:1", 2, time.Minute)
	if d.allowed {
		t.Fatal("third request must be denied")
	}
	if d.count != 3 {
		t.Fatalf("expected count 3, got %d", d.count)
	}
}

func TestRedisLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newRedisLimiter(t)

	if d := limiter.Allow("user:1", 1, time.Minute); !d.allowed {
		t.Fatal("user:1 must pass")
	}
	if d := limiter.Allow("user:2", 1, time.Minute); !d.allowed {
		t.Fatal("user:2 has its own budget")
	}
	if d := limiter.Allow("user:1", 1, time.Minute); d.allowed {
		t.Fatal("user:1 exhausted its budget")
	}
}

func TestRedisLimiterWindowExpiry(t *testing.T) {
	limiter, mr := newRedisLimiter(t)

	limiter.Allow("user:1", 1, time.Minute)
	if d := limiter.Allow("user:1", 1, time.Minute); d.allowed {
		t.Fatal("budget exhausted")
	}

	mr.FastForward(time.Minute + time.Second)

	if d := limiter.Allow("user:1", 1, time.Minute); !d.allowed {
		t.Fatal("budget must reset after the window expires")
	}
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	limiter, mr := newRedisLimiter(t)
	mr.Close()

	// Limiting is advisory; a broken backend must not block API traffic.
	if d := limiter.Allow("user:1", 1, time.Minute); !d.allowed {
		t.Fatal("limiter must fail open when the backend is unreachable")
	}
}
