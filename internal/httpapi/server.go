package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nathancread/Moist-Meat/internal/config"
)

// NewServer serves handler on cfg.HTTPAddr. Request contexts derive from
// base, so open streams end when base is canceled. There is no write timeout:
// streams bound their own writes.
func NewServer(cfg config.Config, handler http.Handler, base context.Context, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLogger(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return base },
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
