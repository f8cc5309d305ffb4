package shield

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/feedbackvos/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func post(h http.Handler, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = ip + ":40000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_PerIPPerEndpoint(t *testing.T) {
	// WHAT: the third submit within a minute from one client is refused.
	// WHY: each submit writes to GitHub; a stuck client must not flood it.
	rl := NewRateLimiter([]Rule{{Method: http.MethodPost, Suffix: "/submit", MaxRequests: 2, Window: time.Minute}})
	h := rl.Middleware(okHandler())

	assert.Equal(t, 200, post(h, "/feedback/sessions/a/submit", "10.0.0.1").Code)
	assert.Equal(t, 200, post(h, "/feedback/sessions/b/submit", "10.0.0.1").Code)

	w := post(h, "/feedback/sessions/c/submit", "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMITED", body["error"])

	// Other clients and other endpoints are unaffected.
	assert.Equal(t, 200, post(h, "/feedback/sessions/a/submit", "10.0.0.2").Code)
	assert.Equal(t, 200, post(h, "/feedback/sessions/a/preview", "10.0.0.1").Code)
}

func TestRateLimiter_WindowResets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter([]Rule{{Method: http.MethodPost, Suffix: "/submit", MaxRequests: 1, Window: time.Minute}})
	rl.now = func() time.Time { return now }
	h := rl.Middleware(okHandler())

	assert.Equal(t, 200, post(h, "/s/submit", "10.0.0.1").Code)
	assert.Equal(t, 429, post(h, "/s/submit", "10.0.0.1").Code)

	now = now.Add(61 * time.Second)
	assert.Equal(t, 200, post(h, "/s/submit", "10.0.0.1").Code)

	now = now.Add(2 * time.Minute)
	rl.gc()
	n := 0
	rl.buckets.Range(func(_, _ any) bool { n++; return true })
	assert.Zero(t, n)
}

func TestRateLimiter_Exclude(t *testing.T) {
	rl := NewRateLimiter([]Rule{{Method: http.MethodPost, Suffix: "/submit", MaxRequests: 1, Window: time.Minute}}, "/internal/")
	h := rl.Middleware(okHandler())
	for i := 0; i < 3; i++ {
		assert.Equal(t, 200, post(h, "/internal/submit", "10.0.0.1").Code)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ExtractIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ExtractIP(req))
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("X-Frame-Options"))
}

func TestRequestID(t *testing.T) {
	var seen, transport string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = kit.GetRequestID(r.Context())
		transport = kit.GetTransport(r.Context())
		assert.NotNil(t, GetLogger(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "http", transport)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 12)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
}
