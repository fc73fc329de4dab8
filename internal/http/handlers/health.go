package handlers

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// Health runs the registered dependency probes and answers 503 when any of
// them fails.
func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(api.checkNames))

	for _, name := range api.checkNames {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := api.checks[name](ctx)
		cancel()

		if err != nil {
			status = "degraded"
			checks[name] = err.Error()
			api.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}
