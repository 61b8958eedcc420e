package readings

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"

	"github.com/nathancread/Moist-Meat/internal/errreport"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/controller"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/service"
	"github.com/nathancread/Moist-Meat/internal/source"
)

// Options configures the readings feature.
type Options struct {
	StreamTimeout time.Duration
	WriteTimeout  time.Duration
	HistoryWindow time.Duration
	// Location is the default zone for naive times and chart labels.
	Location *time.Location
	Clock         clock.Clock
	Reporter      errreport.Reporter
	Logger        *slog.Logger
}

// RegisterFeature mounts the dashboard, the history API and the live stream,
// all served from src.
func RegisterFeature(mux *http.ServeMux, src source.Source, opts Options) *service.Service {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	readingsService := service.NewService(src, opts.Clock, opts.HistoryWindow, opts.Logger)
	readingsController := controller.NewReadingsController(controller.Deps{
		Feed:          src,
		History:       readingsService,
		Clock:         opts.Clock,
		Reporter:      opts.Reporter,
		Logger:        opts.Logger,
		StreamTimeout: opts.StreamTimeout,
		WriteTimeout:  opts.WriteTimeout,
		Location:      opts.Location,
	})
	readingsController.RegisterRoutes(mux)
	return readingsService
}
