package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserIDHeader identifies the caller. Authentication happens upstream.
const UserIDHeader = "X-User-ID"

// RateLimiter is a shared per-subject request counter
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, subject string, limit int) (bool, int, error)
}

type Middleware struct {
	shared RateLimiter
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	local   map[string]*localLimiter
	sweepAt int
}

type localLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const (
	// A bucket idle this long has refilled, so dropping it changes nothing
	limiterIdle = time.Minute
	minSweep    = 1024
)

// NewMiddleware creates the middleware set. A nil shared limiter falls back
// to per-process token buckets.
func NewMiddleware(shared RateLimiter, limitPerMinute int) *Middleware {
	if limitPerMinute <= 0 {
		limitPerMinute = 100
	}
	return &Middleware{
		shared:  shared,
		limit:   limitPerMinute,
		now:     time.Now,
		local:   make(map[string]*localLimiter),
		sweepAt: minSweep,
	}
}

// UserFromContext returns the caller set by UserMiddleware
func UserFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// UserMiddleware requires the caller's user id header
func (m *Middleware) UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + UserIDHeader + " header"})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware enforces the per-user request rate
func (m *Middleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := UserFromContext(r.Context())
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		exceeded, remaining := m.check(r.Context(), userID)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if exceeded {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) check(ctx context.Context, userID string) (bool, int) {
	if m.shared != nil {
		exceeded, remaining, err := m.shared.CheckRateLimit(ctx, userID, m.limit)
		if err == nil {
			return exceeded, remaining
		}
		logger.Warn("shared rate limiter unavailable, using local limiter", "error", err)
	}

	now := m.now()

	m.mu.Lock()
	l, ok := m.local[userID]
	if !ok {
		if len(m.local) >= m.sweepAt {
			m.sweepLocked(now)
		}
		l = &localLimiter{lim: rate.NewLimiter(rate.Limit(float64(m.limit)/60), m.limit)}
		m.local[userID] = l
	}
	l.lastSeen = now
	allowed := l.lim.AllowN(now, 1)
	remaining := int(l.lim.TokensAt(now))
	m.mu.Unlock()

	if !allowed {
		return true, 0
	}
	return false, remaining
}

// sweepLocked drops limiters idle for limiterIdle. Callers hold m.mu.
func (m *Middleware) sweepLocked(now time.Time) {
	for userID, l := range m.local {
		if now.Sub(l.lastSeen) >= limiterIdle {
			delete(m.local, userID)
		}
	}
	m.sweepAt = max(2*len(m.local), minSweep)
}

// CORSMiddleware handles CORS
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
