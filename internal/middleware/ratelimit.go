package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"github.com/campusbridge/campusbridge/internal/logger"
)

const (
	bucketTTL     = 5 * time.Minute
	sweepInterval = time.Minute
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a token bucket per client IP.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	proxies *TrustedProxies

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	log     *logger.Logger
}

// NewRateLimiter allows perSecond sustained requests with bursts of burst per
// client. Clients are identified by proxies.ClientIP; a nil proxies keys on
// the connecting peer. Idle buckets are swept until ctx is cancelled.
func NewRateLimiter(ctx context.Context, perSecond float64, burst int, proxies *TrustedProxies) *RateLimiter {
	l := &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		proxies: proxies,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		log:     logger.Default().WithComponent("ratelimit"),
	}
	go l.sweepLoop(ctx)
	return l
}

func (l *RateLimiter) reserve(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	if b.lim.AllowN(now, 1) {
		return 0, true
	}

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Second, false
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return wait, false
}

// Middleware rejects requests over the limit with 429 and a Retry-After hint.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := l.proxies.ClientIP(r)
		if ip == "" {
			ip = "unknown"
		}

		if wait, ok := l.reserve(ip); !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			l.log.Warn(r.Context(), "rate limit exceeded", map[string]interface{}{
				"client_ip": ip,
				"path":      r.URL.Path,
			})
			apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.RateLimited())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *RateLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, b := range l.buckets {
		if now.Sub(b.seen) > bucketTTL {
			delete(l.buckets, k)
		}
	}
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
