package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Sweep runs one sweep pass for an external scheduler. It is disabled
// unless a token is configured.
func (api *API) Sweep(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get("X-Sweep-Token"))
	if api.sweeper == nil || api.sweepToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(api.sweepToken)) != 1 {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid sweep token")
		return
	}

	report, err := api.sweeper.Sweep(r.Context())
	if err != nil {
		api.logger.Error().Err(err).Msg("sweep request failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
