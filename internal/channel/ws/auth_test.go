package ws

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "wrong"))
	assert.False(t, safeEqual("short", "longer-string"))
	assert.False(t, safeEqual("secret", ""))
	assert.False(t, safeEqual("", "secret"))
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name  string
		token string
		auth  *ConnectAuth
		want  string
	}{
		{"match", "tok", &ConnectAuth{Token: "tok"}, ""},
		{"mismatch", "tok", &ConnectAuth{Token: "nope"}, "token_mismatch"},
		{"empty client token", "tok", &ConnectAuth{}, "token required"},
		{"nil credentials", "tok", nil, "token required"},
		{"server token not configured", "", &ConnectAuth{Token: ""}, "server token not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authorize(tt.token, tt.auth))
		})
	}
}

func TestAuthRateLimiter_AllowInitial(t *testing.T) {
	assert.True(t, newAuthRateLimiter().allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_AllowAfterFewFailures(t *testing.T) {
	limiter := newAuthRateLimiter()
	for i := 0; i < 5; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.True(t, limiter.allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_BlockAfterMaxFailures(t *testing.T) {
	limiter := newAuthRateLimiter()
	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.False(t, limiter.allow("192.168.1.1:54321"), "ports are ignored")
	assert.True(t, limiter.allow("192.168.1.2:12345"))
}

func TestAuthRateLimiter_IPWithoutPort(t *testing.T) {
	limiter := newAuthRateLimiter()
	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1")
	}
	assert.False(t, limiter.allow("192.168.1.1"))
}

func TestAuthRateLimiter_ExpiredFailures(t *testing.T) {
	limiter := newAuthRateLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }
	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.False(t, limiter.allow("192.168.1.1:12345"))

	now = now.Add(authRateWindow + time.Second)
	assert.True(t, limiter.allow("192.168.1.1:12345"))

	limiter.prune()
	limiter.mu.Lock()
	assert.Empty(t, limiter.failures)
	limiter.mu.Unlock()
}

func TestAuthRateLimiter_CapsTrackedHosts(t *testing.T) {
	limiter := newAuthRateLimiter()
	start := time.Now()
	n := 0
	limiter.now = func() time.Time { n++; return start.Add(time.Duration(n) * time.Millisecond) }
	for i := 0; i < authRateMaxIPs+1; i++ {
		limiter.recordFailure("10.0." + strconv.Itoa(i/256) + "." + strconv.Itoa(i%256))
	}
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Len(t, limiter.failures, authRateMaxIPs)
	assert.NotContains(t, limiter.failures, "10.0.0.0", "oldest host evicted")
}

func originRequest(origin string) *http.Request {
	req := httptest.NewRequest("GET", "/ws", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"empty allowed list", nil, "http://evil.com", false},
		{"wildcard", []string{"*"}, "http://anything.com", true},
		{"specific match", []string{"http://one.com", "http://two.com"}, "http://two.com", true},
		{"specific no match", []string{"http://one.com", "http://two.com"}, "http://three.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkOrigin(tt.allowed)(originRequest(tt.origin)))
		})
	}
}
