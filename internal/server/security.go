package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/tramline/internal/logging"
)

// SecurityConfig holds the response headers and request filters applied to
// every request.
type SecurityConfig struct {
	XFrameOptions       string
	XContentTypeNoSniff bool
	ReferrerPolicy      string
	BlockedUserAgents   []string
	Logger              logging.Logger
}

// DevelopmentSecurityConfig returns headers suitable for a local dev server.
// Framing, inline scripts and cross-origin fetches stay allowed since the
// served application decides its own policy.
func DevelopmentSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		XFrameOptions:       "SAMEORIGIN",
		XContentTypeNoSniff: true,
		ReferrerPolicy:      "no-referrer-when-downgrade",
	}
}

// SecurityMiddleware applies secConfig to every request.
func SecurityMiddleware(secConfig *SecurityConfig) func(http.Handler) http.Handler {
	if secConfig == nil {
		secConfig = DevelopmentSecurityConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			applySecurityHeaders(w, secConfig)

			if isBlockedUserAgent(r.UserAgent(), secConfig.BlockedUserAgents) {
				if secConfig.Logger != nil {
					secConfig.Logger.Warn(r.Context(), nil, "Security: Blocked user agent",
						"user_agent", r.UserAgent(),
						"ip", getClientIP(r))
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func applySecurityHeaders(w http.ResponseWriter, config *SecurityConfig) {
	if config.XFrameOptions != "" {
		w.Header().Set("X-Frame-Options", config.XFrameOptions)
	}
	if config.XContentTypeNoSniff {
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}
	if config.ReferrerPolicy != "" {
		w.Header().Set("Referrer-Policy", config.ReferrerPolicy)
	}
}

func isBlockedUserAgent(userAgent string, blockedAgents []string) bool {
	if userAgent == "" {
		return false
	}

	userAgentLower := strings.ToLower(userAgent)
	for _, blocked := range blockedAgents {
		if strings.Contains(userAgentLower, strings.ToLower(blocked)) {
			return true
		}
	}

	return false
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip := r.RemoteAddr
	if colonPos := strings.LastIndex(ip, ":"); colonPos != -1 {
		ip = ip[:colonPos]
	}
	return ip
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack is required by the live-reload upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// addMiddleware wraps handler with security headers and request logging.
func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	secConfig := DevelopmentSecurityConfig()
	secConfig.Logger = s.logger
	securityHandler := SecurityMiddleware(secConfig)(handler)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		securityHandler.ServeHTTP(rec, r)
		s.logger.Debug(r.Context(), "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
