// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"net/http"
	"sort"
	"time"

	"github.com/MGallo-Code/obol/internal/ratelimit"
)

const (
	statusOK       = "ok"
	statusError    = "error"
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

type healthResponse struct {
	Status       string            `json:"status"`
	RateLimit    ratelimit.Info    `json:"rateLimit"`
	Timestamp    string            `json:"timestamp"`
	Dependencies map[string]string `json:"dependencies"`
}

// CheckHealth handles GET /health -- pings every dependency and reports the caller's
// limiter allowance. Always 200; a failed dependency only marks the status degraded.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	info := h.Limiter.IsAllowed(r.Context(), ratelimit.ClientIP(r), ratelimit.Options{})

	names := make([]string, 0, len(h.Health))
	for name := range h.Health {
		names = append(names, name)
	}
	sort.Strings(names)

	status := statusHealthy
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.Health[name].CheckHealth(r.Context()); err != nil {
			logError(r, "health check failed", "dependency", name, "error", err)
			deps[name] = statusError
			status = statusDegraded
			continue
		}
		deps[name] = statusOK
	}

	OK(w, healthResponse{
		Status:       status,
		RateLimit:    info,
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Dependencies: deps,
	})
}
