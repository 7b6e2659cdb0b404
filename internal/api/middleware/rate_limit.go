package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cloudcompanion/internal/pkg/errors"
	"cloudcompanion/internal/platform/config"
)

type RateLimiter struct {
	store *sync.Map // map[string]*visitor
	limit rate.Limit
	burst int
	now   func() time.Time
}

type visitor struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	// lastAccess lets the cleanup loop drop idle callers.
	lastAccess time.Time
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	perMinute := cfg.ActionsPerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		store: &sync.Map{},
		limit: rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		now:   time.Now,
	}
}

// Run evicts idle callers until stop is closed.
func (rl *RateLimiter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.evict(10 * time.Minute)
		}
	}
}

func (rl *RateLimiter) evict(idle time.Duration) {
	now := rl.now()
	rl.store.Range(func(key, value interface{}) bool {
		v := value.(*visitor)
		v.mu.Lock()
		if now.Sub(v.lastAccess) > idle {
			rl.store.Delete(key)
		}
		v.mu.Unlock()
		return true
	})
}

func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()
	val, _ := rl.store.LoadOrStore(key, &visitor{
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	})

	v := val.(*visitor)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastAccess = now
	return v.limiter.AllowN(now, 1)
}

// Handle limits requests per authenticated caller, falling back to the client address.
func (rl *RateLimiter) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r)
		if caller := CallerFrom(r.Context()); caller != nil {
			key = "user:" + caller.UserID
		}

		if !rl.Allow(key) {
			w.Header().Set("Retry-After", "60")
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
