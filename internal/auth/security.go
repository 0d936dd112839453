// security.go -- Response hardening and request filtering middleware.
package auth

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/cors"
)

// contentSecurityPolicy allows the chat page's CDN scripts and the PeerJS signalling servers.
var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self' 'unsafe-inline' https://cdn.tailwindcss.com https://unpkg.com",
	"style-src 'self' 'unsafe-inline' https://cdn.tailwindcss.com",
	"img-src 'self' data:",
	"connect-src 'self' wss://*.peerjs.com https://*.peerjs.com",
	"font-src 'self'",
	"object-src 'none'",
	"frame-src 'none'",
}, "; ")

// SecurityHeaders sets the Content-Security-Policy and basic hardening headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", contentSecurityPolicy)
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// scannerPaths match probes for software this server does not run, in any letter case.
var scannerPaths = []*regexp.Regexp{
	regexp.MustCompile(`(?i)wp-includes`),
	regexp.MustCompile(`(?i)xmlrpc\.php`),
	regexp.MustCompile(`(?i)wp-content`),
	regexp.MustCompile(`(?i)wp-admin`),
	regexp.MustCompile(`(?i)wordpress`),
	regexp.MustCompile(`(?i)\.env`),
	regexp.MustCompile(`(?i)\.git`),
	regexp.MustCompile(`(?i)\.sql`),
	regexp.MustCompile(`(?i)\.php$`),
}

// BlockScanners answers known scanner paths with 404 before any routing or rate limiting.
func BlockScanners(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, re := range scannerPaths {
			if re.MatchString(r.URL.Path) {
				logDebug(r, "blocked scanner path")
				NotFound(w, "Not Found")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// SameOriginWrites rejects POST, PUT and DELETE requests whose Origin header contains none
// of allowed. Requests without an Origin header (curl, server-to-server) pass.
func SameOriginWrites(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodDelete:
			default:
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" || originAllowed(origin, allowed) {
				next.ServeHTTP(w, r)
				return
			}
			logWarn(r, "cross-origin write rejected", "origin", origin)
			Forbidden(w, "Cross-origin requests disabled")
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a != "" && strings.Contains(origin, a) {
			return true
		}
	}
	return false
}

// CORS allows credentialed requests from origin.
func CORS(origin string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
