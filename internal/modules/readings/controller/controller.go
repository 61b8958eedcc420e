package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"

	"github.com/nathancread/Moist-Meat/internal/errreport"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/service"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/types"
	"github.com/nathancread/Moist-Meat/internal/source"
)

// HistoryService loads stored readings.
type HistoryService interface {
	History(ctx context.Context, q service.Query) (service.History, error)
	Latest(ctx context.Context) (types.Reading, error)
}

type ReadingsController interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Deps are the collaborators of the readings endpoints. Zero durations fall
// back to the session defaults.
type Deps struct {
	Feed          source.Feed
	History       HistoryService
	Clock         clock.Clock
	Reporter      errreport.Reporter
	Logger        *slog.Logger
	StreamTimeout time.Duration
	WriteTimeout  time.Duration
	// Location reads naive from/to values and labels the charts when a
	// request carries no tz. Defaults to UTC.
	Location *time.Location
}

type readingsControllerImpl struct {
	feed          source.Feed
	history       HistoryService
	clock         clock.Clock
	reporter      errreport.Reporter
	logger        *slog.Logger
	streamTimeout time.Duration
	writeTimeout  time.Duration
	location      *time.Location
}

func NewReadingsController(deps Deps) ReadingsController {
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Reporter == nil {
		deps.Reporter = errreport.NewLog(deps.Logger)
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &readingsControllerImpl{
		feed:          deps.Feed,
		history:       deps.History,
		clock:         deps.Clock,
		reporter:      deps.Reporter,
		logger:        deps.Logger.With("component", "readings"),
		streamTimeout: deps.StreamTimeout,
		writeTimeout:  deps.WriteTimeout,
		location:      deps.Location,
	}
}

func (c *readingsControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", c.handleDashboard)
	mux.HandleFunc("GET /stream", c.handleStream)
	mux.HandleFunc("GET /api/v1/readings", c.handleReadings)
	mux.HandleFunc("GET /api/v1/readings/latest", c.handleLatest)
}
