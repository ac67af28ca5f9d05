package ws

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

// authorize checks the client credential against the bot token. It returns
// an empty reason on success.
func authorize(token string, auth *ConnectAuth) (reason string) {
	switch {
	case token == "":
		return "server token not configured"
	case auth == nil || auth.Token == "":
		return "token required"
	case !safeEqual(auth.Token, token):
		return "token_mismatch"
	default:
		return ""
	}
}

// safeEqual performs a constant-time string comparison. Lengths are compared
// in constant time as well.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// authRateLimiter tracks failed handshakes per remote host.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time), now: time.Now}
}

// run prunes stale entries every minute until ctx is done.
func (l *authRateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *authRateLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for host := range l.failures {
		l.recentLocked(host)
	}
}

// recentLocked drops failures outside the window and returns what remains.
func (l *authRateLimiter) recentLocked(host string) []time.Time {
	cutoff := l.now().Add(-authRateWindow)
	times := l.failures[host]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, host)
		return nil
	}
	l.failures[host] = kept
	return kept
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recentLocked(hostOf(remoteAddr))) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		var oldestHost string
		var oldest time.Time
		for h, times := range l.failures {
			if len(times) > 0 && (oldestHost == "" || times[0].Before(oldest)) {
				oldestHost, oldest = h, times[0]
			}
		}
		delete(l.failures, oldestHost)
	}
	l.failures[host] = append(l.failures[host], l.now())
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

// checkOrigin validates the WebSocket Origin header. Requests without one
// (non-browser clients) are allowed; browsers must match an allowed origin.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

func isOriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
