package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/ngoyal88/mimasaka/pkg/cache"
	"github.com/ngoyal88/mimasaka/pkg/config"
)

const redisRateKey = "mimasaka:admin"

// NewRateLimiter creates a middleware that limits requests using the live
// ratelimit settings from cfgStore. With a Redis client the budget is shared
// across instances through redis_rate; if Redis errors the local token
// bucket decides instead.
func NewRateLimiter(rdb *cache.Client, cfgStore *config.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "ratelimit")

	var distributed *redis_rate.Limiter
	if rdb != nil {
		distributed = redis_rate.NewLimiter(rdb.Redis())
	}
	local := &localLimiter{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := cfgStore.Get()
			if cfg == nil || !cfg.RateLimit.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			rl := cfg.RateLimit

			allowed, retryAfter := true, time.Duration(0)
			decided := false
			if distributed != nil {
				ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
				res, err := distributed.Allow(ctx, redisRateKey, redisLimit(rl.RPS, rl.Burst))
				cancel()
				if err != nil {
					logger.Warn("distributed limiter failed, using local limiter", "error", err)
				} else {
					allowed, retryAfter, decided = res.Allowed > 0, res.RetryAfter, true
				}
			}
			if !decided {
				allowed = local.allow(rl.RPS, rl.Burst)
			}

			if !allowed {
				rateLimited.Inc()
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"Too Many Requests"}` + "\n"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// redisLimit expresses rps as a redis_rate limit. redis_rate only takes an
// integer rate per period, so fractional rates become one request per
// 1/rps seconds.
func redisLimit(rps float64, burst int) redis_rate.Limit {
	switch {
	case rps >= math.MaxInt32:
		return redis_rate.Limit{Rate: math.MaxInt32, Burst: burst, Period: time.Second}
	case rps == math.Trunc(rps):
		return redis_rate.Limit{Rate: int(rps), Burst: burst, Period: time.Second}
	default:
		return redis_rate.Limit{Rate: 1, Burst: burst, Period: time.Duration(float64(time.Second) / rps)}
	}
}

// localLimiter is a process-wide token bucket that follows config reloads.
type localLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	rps     float64
	burst   int
}

func (l *localLimiter) allow(rps float64, burst int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limiter == nil {
		l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	} else if l.rps != rps || l.burst != burst {
		l.limiter.SetLimit(rate.Limit(rps))
		l.limiter.SetBurst(burst)
	}
	l.rps, l.burst = rps, burst

	return l.limiter.Allow()
}
