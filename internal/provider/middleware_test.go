package provider

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stream-resolver-service/internal/mirror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestCORSMiddleware(t *testing.T) {
	t.Run("preflight", func(t *testing.T) {
		called := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

		rr := httptest.NewRecorder()
		corsMiddleware("http://localhost:5175")(next).ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/search", nil))

		assert.False(t, called)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "http://localhost:5175", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.NotEmpty(t, rr.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("normal request", func(t *testing.T) {
		called := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		})

		rr := httptest.NewRecorder()
		corsMiddleware("*")(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.True(t, called)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := rateLimitMiddleware(1, 2)(next)

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1002"))
	// other clients have their own bucket
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000"))
}

func TestIPLimiterSweepsIdleVisitors(t *testing.T) {
	l := newIPLimiter(1, 1)
	start := time.Now()
	l.get("a", start)
	l.get("b", start.Add(3*time.Minute))

	l.get("c", start.Add(5*time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.visitors, "a")
	assert.Contains(t, l.visitors, "b")
	assert.Contains(t, l.visitors, "c")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestRouter(t *testing.T) {
	res := new(MockResolver)
	res.On("ResolveStream", mock.Anything, "dQw4w9WgXcQ").Return(mirror.StreamCandidate{URL: "https://cdn.example/x"}, nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) })
	srv := NewServer(res, nil, Options{Metrics: metrics})
	h := srv.Router()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/streamurl?video_id=dQw4w9WgXcQ", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/search?q=x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRouterMountsEvents(t *testing.T) {
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusSwitchingProtocols) })
	srv := NewServer(new(MockResolver), nil, Options{Events: events})

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws/outcomes", nil))
	assert.Equal(t, http.StatusSwitchingProtocols, rr.Code)

	rr = httptest.NewRecorder()
	NewServer(new(MockResolver), nil, Options{}).Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws/outcomes", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
