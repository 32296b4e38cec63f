package auth

import (
	"net"
	"net/http"
	"strings"

	"chatcore/pkg/logger"
	"chatcore/pkg/utils"
)

// SecConfig drives CORS and rate limiting for the HTTP surface. Identity
// itself arrives via headers set by a trusted frontend; there is nothing
// to verify here beyond shape.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
}

// GuardMiddleware handles CORS, request logging, identity extraction and
// per-user rate limiting. Health probes and metrics pass through without
// an identity; everything under /v1 and /ws requires one.
func GuardMiddleware(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// log request (redacts sensitive headers)
			logger.LogRequest(r)

			// cors preflight
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type,X-User-ID,X-User-Name,X-User-Avatar")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// unauthenticated probes
			if !strings.HasPrefix(r.URL.Path, "/v1") && r.URL.Path != "/ws" {
				next.ServeHTTP(w, r)
				return
			}

			id := FromHeaders(r)
			if ok, msg := validUserID(id.UserID); !ok {
				logger.Warn("request_unauthorized", "reason", msg, "path", r.URL.Path, "remote", r.RemoteAddr)
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			// rate limiting keyed by user, falling back to remote ip
			key := id.UserID
			if key == "" {
				key = clientIP(r)
			}
			if !limiters.Allow(key) {
				logger.Warn("rate_limited", "user", id.UserID, "path", r.URL.Path)
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	// honor the nearest proxy hop when present
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
