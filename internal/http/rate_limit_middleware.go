package httpx

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const rateLimiterSweepInterval = 5 * time.Minute

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

// ratePolicy is a named request budget. The name prefixes the limiter key so
// that one caller draws on a separate budget per policy.
type ratePolicy struct {
	name   string
	limit  int
	window time.Duration
}

var (
	policySignIn    = ratePolicy{name: "signin", limit: 12, window: time.Minute}
	policyUserRead  = ratePolicy{name: "read", limit: 240, window: time.Minute}
	policyUserWrite = ratePolicy{name: "write", limit: 60, window: time.Minute}
	policyAdmin     = ratePolicy{name: "admin", limit: 30, window: time.Minute}
	policyStream    = ratePolicy{name: "stream", limit: 30, window: 30 * time.Second}
)

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

func (d rateDecision) remaining(limit int) int {
	return max(limit-d.count, 0)
}

// retryAfter rounds the time left in the window up to whole seconds.
func (d rateDecision) retryAfter(now time.Time) int {
	if d.windowEnd.IsZero() || !d.windowEnd.After(now) {
		return 1
	}
	return int(math.Ceil(d.windowEnd.Sub(now).Seconds()))
}

func (d rateDecision) writeHeaders(w http.ResponseWriter, limit int, now time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining(limit)))
	if !d.windowEnd.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.windowEnd.Unix(), 10))
	}
	if !d.allowed {
		h.Set("Retry-After", strconv.Itoa(d.retryAfter(now)))
	}
}

// fixedWindow is one key's counter in the in-memory limiter.
type fixedWindow struct {
	count   int
	resetAt time.Time
}

func (fw *fixedWindow) hit(now time.Time, limit int, span time.Duration) rateDecision {
	if !now.Before(fw.resetAt) {
		fw.count, fw.resetAt = 0, now.Add(span)
	}
	if fw.count >= limit {
		return rateDecision{allowed: false, count: fw.count, windowEnd: fw.resetAt}
	}
	fw.count++
	return rateDecision{allowed: true, count: fw.count, windowEnd: fw.resetAt}
}

type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	now     func() time.Time
	cancel  context.CancelFunc
}

// NewMemoryRateLimiter returns a process-local limiter. Expired windows are
// swept in the background until Close.
func NewMemoryRateLimiter() RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &memoryRateLimiter{
		windows: make(map[string]*fixedWindow),
		now:     time.Now,
		cancel:  cancel,
	}
	go rl.sweep(ctx, rateLimiterSweepInterval)
	return rl
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	fw, ok := rl.windows[key]
	if !ok {
		fw = &fixedWindow{}
		rl.windows[key] = fw
	}
	return fw.hit(now, limit, window)
}

func (rl *memoryRateLimiter) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictExpired(rl.now())
		}
	}
}

func (rl *memoryRateLimiter) evictExpired(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, fw := range rl.windows {
		if !now.Before(fw.resetAt) {
			delete(rl.windows, key)
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (rl *memoryRateLimiter) Close() {
	rl.cancel()
}

// withRateLimit charges the request to policy under the subject returned by
// subject, falling back to the client address.
func (r *Router) withRateLimit(route string, policy ratePolicy, subject func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if policy.limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		who := subject(req)
		if who == "" {
			who = rateLimitKeyIP(req)
		}
		decision := r.limiter.Allow(policy.name+":"+who, policy.limit, policy.window)
		decision.writeHeaders(w, policy.limit, time.Now())
		if !decision.allowed {
			r.recordRateLimitHit(route, subjectKind(who))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// handlerAuthRate authenticates, then limits per user. Reads and writes draw
// on separate budgets.
func (r *Router) handlerAuthRate(route string, next http.HandlerFunc) http.HandlerFunc {
	read := r.withRateLimit(route, policyUserRead, r.rateLimitKeyUser, next)
	write := r.withRateLimit(route, policyUserWrite, r.rateLimitKeyUser, next)
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			read(w, req)
		default:
			write(w, req)
		}
	})
}

func (r *Router) rateLimitKeyUser(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.UserID != "" {
		return "user:" + info.UserID
	}
	return ""
}

func rateLimitKeyIP(req *http.Request) string {
	host := clientIP(req)
	if host == "" {
		host, _, _ = net.SplitHostPort(req.RemoteAddr)
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// subjectKind reduces a subject such as "user:42" to its low-cardinality kind
// for metric labels.
func subjectKind(subject string) string {
	kind, _, found := strings.Cut(subject, ":")
	if !found || kind == "" {
		return "unknown"
	}
	return kind
}
