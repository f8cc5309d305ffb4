package shield

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Rule limits one endpoint. Paths carry session IDs, so an endpoint is
// matched by method and path suffix.
type Rule struct {
	Method      string
	Suffix      string
	MaxRequests int
	Window      time.Duration
}

func (r Rule) key() string { return r.Method + " *" + r.Suffix }

// DefaultRules caps the endpoints that launch Chrome or write to GitHub.
func DefaultRules() []Rule {
	return []Rule{
		{Method: http.MethodPost, Suffix: "/screenshot/capture", MaxRequests: 20, Window: time.Minute},
		{Method: http.MethodPost, Suffix: "/submit", MaxRequests: 10, Window: time.Minute},
		{Method: http.MethodPost, Suffix: "/sessions", MaxRequests: 60, Window: time.Minute},
	}
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint fixed-window rate limiting.
// Expired buckets are dropped by Run.
type RateLimiter struct {
	rules   []Rule
	buckets sync.Map
	exclude []string // path prefixes excluded from rate limiting
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter enforcing rules. Rules with a
// non-positive limit or window are ignored.
func NewRateLimiter(rules []Rule, excludePrefixes ...string) *RateLimiter {
	rl := &RateLimiter{exclude: excludePrefixes, now: time.Now}
	for _, r := range rules {
		if r.MaxRequests > 0 && r.Window > 0 {
			rl.rules = append(rl.rules, r)
		}
	}
	return rl
}

// Run garbage-collects expired buckets every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			rl.gc()
		}
	}
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) match(method, path string) (Rule, bool) {
	for _, r := range rl.rules {
		if r.Method == method && strings.HasSuffix(path, r.Suffix) {
			return r, true
		}
	}
	return Rule{}, false
}

// allow reports whether the request may proceed, and when the client may
// retry if not.
func (rl *RateLimiter) allow(ip string, rule Rule) (bool, time.Duration) {
	now := rl.now()
	val, _ := rl.buckets.LoadOrStore(ip+":"+rule.key(), &bucket{resetAt: now.Add(rule.Window)})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(rule.Window)
	}
	b.count++
	if b.count <= rule.MaxRequests {
		return true, 0
	}
	return false, b.resetAt.Sub(now)
}

// Middleware is the HTTP middleware that enforces rate limits with a 429
// JSON response in the feedback error format.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		rule, ok := rl.match(r.Method, r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ip := ExtractIP(r)
		allowed, wait := rl.allow(ip, rule)
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", rule.key())
		secs := int(wait.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error":   "RATE_LIMITED",
			"message": "too many requests, try again in " + strconv.Itoa(secs) + "s",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
