package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bcgov/tenant-management-system-sub000/pkg/apierrors"
	"github.com/bcgov/tenant-management-system-sub000/pkg/auth"
	"github.com/bcgov/tenant-management-system-sub000/pkg/httputil"
	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
)

const rateLimitWindow = time.Minute

// RateLimiter applies a fixed-window per-caller limit. With a redis
// client the window counters are shared across instances; without one,
// or when redis is unreachable, it falls back to in-process counters
// held in an expiring LRU. Limiter errors fail open.
type RateLimiter struct {
	redis   *redis.Client
	limit   int
	local   *expirable.LRU[string, *windowCounter]
	logger  *observability.Logger
	metrics *observability.Metrics
}

type windowCounter struct {
	mu      sync.Mutex
	window  int64
	count   int
}

// NewRateLimiter creates a rate limiter allowing limit requests per
// minute per caller. redisClient may be nil.
func NewRateLimiter(redisClient *redis.Client, limit int, logger *observability.Logger, metrics *observability.Metrics) *RateLimiter {
	return &RateLimiter{
		redis:   redisClient,
		limit:   limit,
		local:   expirable.NewLRU[string, *windowCounter](4096, nil, 2*rateLimitWindow),
		logger:  logger.WithComponent("ratelimit"),
		metrics: metrics,
	}
}

// Handler wraps next with the rate limit check
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.callerKey(r)

		allowed, remaining := rl.allow(r, key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			if rl.metrics != nil {
				rl.metrics.RateLimitedTotal.Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
			httputil.WriteDomainError(w, apierrors.TooManyRequests("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// callerKey identifies the caller: token subject when authenticated,
// client IP otherwise.
func (rl *RateLimiter) callerKey(r *http.Request) string {
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		return "sub:" + claims.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func (rl *RateLimiter) allow(r *http.Request, key string) (bool, int) {
	window := time.Now().Unix() / int64(rateLimitWindow.Seconds())

	if rl.redis != nil {
		count, err := rl.allowRedis(r, key, window)
		if err == nil {
			return count <= rl.limit, max(0, rl.limit-count)
		}
		rl.logger.WithError(err).Warn("redis rate limit check failed, falling back to local counter")
	}

	count := rl.allowLocal(key, window)
	return count <= rl.limit, max(0, rl.limit-count)
}

func (rl *RateLimiter) allowRedis(r *http.Request, key string, window int64) (int, error) {
	redisKey := fmt.Sprintf("tms:ratelimit:%s:%d", key, window)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(r.Context(), redisKey)
	pipe.Expire(r.Context(), redisKey, 2*rateLimitWindow)
	if _, err := pipe.Exec(r.Context()); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (rl *RateLimiter) allowLocal(key string, window int64) int {
	counter, ok := rl.local.Get(key)
	if !ok {
		counter = &windowCounter{}
		rl.local.Add(key, counter)
	}

	counter.mu.Lock()
	defer counter.mu.Unlock()
	if counter.window != window {
		counter.window = window
		counter.count = 0
	}
	counter.count++
	return counter.count
}
