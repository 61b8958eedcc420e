package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/nathancread/Moist-Meat/internal/metrics"
)

// NewMux returns a mux with the operational routes mounted: /healthz,
// /metrics and /static/. Feature routes are added by the caller.
func NewMux(source Pinger, staticDir string, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	registerHealthcheck(mux, source, logger)
	mux.Handle("GET /metrics", metrics.Handler())
	if staticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
	return mux
}
