package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/boardsheet/internal/core"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status  string             `json:"status"`
	Imports core.LimiterStatus `json:"imports"`
	Checks  map[string]string  `json:"checks,omitempty"`
}

// handleHealth reports dependency health and import capacity. Any failing
// check turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{
		Status:  "ok",
		Imports: s.service.Limiter().Status(),
		Checks:  make(map[string]string, len(s.checks)),
	}
	status := http.StatusOK

	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	writeJSON(w, status, resp)
}
