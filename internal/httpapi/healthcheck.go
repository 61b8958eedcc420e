package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nathancread/Moist-Meat/internal/utils"
)

const healthTimeout = 5 * time.Second

// Pinger reports whether the data source is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	source Pinger
	logger *slog.Logger
}

func NewHealthchecker(source Pinger, logger *slog.Logger) healthchecker {
	return &healthcheckerImpl{source: source, logger: logger}
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := h.source.Ping(ctx); err != nil {
		h.logger.Error("failed to reach data source", "error", err)
		utils.WriteError(w, http.StatusServiceUnavailable, "data source unreachable")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux, source Pinger, logger *slog.Logger) {
	healthchecker := NewHealthchecker(source, logger)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
