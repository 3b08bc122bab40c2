package server

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/conductor/internal/config"
)

// TokenEnv is consulted when the config carries no server token.
const TokenEnv = "CONDUCTOR_SERVER_TOKEN"

// ResolveToken resolves the bearer token from config and environment.
// Precedence: config value → env variable → empty (auth disabled).
func ResolveToken(cfg config.ServerConfig) string {
	if cfg.Token != "" {
		return cfg.Token
	}
	return os.Getenv(TokenEnv)
}

// bearerToken extracts the credential from an Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// authorize reports whether the request carries the server token, with a
// reason for the failure.
func authorize(token string, r *http.Request) (bool, string) {
	if token == "" {
		return true, ""
	}
	got := bearerToken(r)
	if got == "" {
		return false, "token required"
	}
	if !safeEqual(got, token) {
		return false, "token mismatch"
	}
	return true, ""
}

// safeEqual performs a constant-time string comparison.
// It avoids early-return on length mismatch so timing does not leak the secret length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// authLimiter tracks failed auth attempts per IP.
type authLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	window   time.Duration
	maxFails int
	maxIPs   int
	now      func() time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

func newAuthLimiter() *authLimiter {
	return &authLimiter{
		failures: make(map[string][]time.Time),
		window:   authRateWindow,
		maxFails: authRateMaxFails,
		maxIPs:   authRateMaxIPs,
		now:      time.Now,
	}
}

func hostOf(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		return remoteAddr
	}
	return host
}

// recent drops expired failures for host. Callers hold l.mu.
func (l *authLimiter) recent(host string) []time.Time {
	cutoff := l.now().Add(-l.window)
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

func (l *authLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recent(hostOf(remoteAddr))) < l.maxFails
}

func (l *authLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.failures[host]; !exists && len(l.failures) >= l.maxIPs {
		var oldestIP string
		var oldest time.Time
		for ip, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldest)) {
				oldestIP = ip
				oldest = times[0]
			}
		}
		delete(l.failures, oldestIP)
	}
	l.failures[host] = append(l.recent(host), l.now())
}
