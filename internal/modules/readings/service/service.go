package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/juju/clock"

	"github.com/nathancread/Moist-Meat/internal/modules/readings/types"
	"github.com/nathancread/Moist-Meat/internal/source"
)

// Readings older than this are leftovers from sensors without a synced clock.
var minValidTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrNoReadings is returned by Latest when the source holds no valid reading.
var ErrNoReadings = errors.New("no readings")

// Fetcher is the one-shot read half of a source.Source.
type Fetcher interface {
	Fetch(ctx context.Context, startAfter int64) ([]source.RawRecord, error)
}

type Service struct {
	src           Fetcher
	clock         clock.Clock
	defaultWindow time.Duration
	logger        *slog.Logger
}

// History is one window of readings in ascending timestamp order.
type History struct {
	Readings []types.Reading
	Window   Window
	// Cursor is where a live stream should continue from, in milliseconds:
	// the newest reading, or the window start when the window is empty.
	// It is never later than the time the history was loaded.
	Cursor int64
}

func NewService(src Fetcher, clk clock.Clock, defaultWindow time.Duration, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.WallClock
	}
	if defaultWindow <= 0 {
		defaultWindow = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		src:           src,
		clock:         clk,
		defaultWindow: defaultWindow,
		logger:        logger.With("component", "readings-service"),
	}
}

// Now returns the service clock's current time in UTC.
func (s *Service) Now() time.Time {
	return s.clock.Now().UTC()
}

// History loads the readings that fall inside the window resolved from q.
// When naive bounds read in q.Location match nothing, they are retried as UTC.
func (s *Service) History(ctx context.Context, q Query) (History, error) {
	now := s.Now()
	h, err := s.history(ctx, q, now)
	if err != nil || len(h.Readings) > 0 {
		return h, err
	}
	alt, ok := q.UTCFallback()
	if !ok {
		return h, nil
	}
	s.logger.Info("no readings in window, retrying naive bounds as UTC", "tz", q.Location.String())
	return s.history(ctx, alt, now)
}

func (s *Service) history(ctx context.Context, q Query, now time.Time) (History, error) {
	w, err := q.Resolve(now, s.defaultWindow)
	if err != nil {
		return History{}, err
	}

	readings, err := s.load(ctx, fetchCursor(w.From))
	if err != nil {
		return History{}, err
	}

	in := readings[:0]
	for _, r := range readings {
		if w.Contains(r.Time()) {
			in = append(in, r)
		}
	}

	h := History{Readings: in, Window: w, Cursor: w.From.UnixMilli()}
	if len(in) > 0 {
		h.Cursor = in[len(in)-1].Timestamp
	}
	h.Cursor = min(h.Cursor, now.UnixMilli())
	s.logger.Debug("history loaded",
		"from", w.From,
		"to", w.To,
		"count", len(in),
	)
	return h, nil
}

// Latest returns the reading with the greatest timestamp.
func (s *Service) Latest(ctx context.Context) (types.Reading, error) {
	readings, err := s.load(ctx, 0)
	if err != nil {
		return types.Reading{}, err
	}
	if len(readings) == 0 {
		return types.Reading{}, ErrNoReadings
	}
	return readings[len(readings)-1], nil
}

// load reads every record after startAfter (seconds) and returns the valid
// readings sorted by timestamp.
func (s *Service) load(ctx context.Context, startAfter int64) ([]types.Reading, error) {
	records, err := s.src.Fetch(ctx, startAfter)
	if err != nil {
		return nil, fmt.Errorf("fetch readings: %w", err)
	}

	readings := make([]types.Reading, 0, len(records))
	for _, rec := range records {
		r, err := types.Validate(rec)
		if err != nil {
			s.logger.Debug("skipping record", "key", rec.Key, "error", err)
			continue
		}
		if r.Time().Before(minValidTime) {
			s.logger.Debug("skipping record before 2000", "key", rec.Key, "timestamp", r.Timestamp)
			continue
		}
		readings = append(readings, r)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		if readings[i].Timestamp != readings[j].Timestamp {
			return readings[i].Timestamp < readings[j].Timestamp
		}
		return readings[i].Key < readings[j].Key
	})
	return readings, nil
}

// fetchCursor is the exclusive source bound that still returns every record
// at or after from. Sub-second timestamps share the second before.
func fetchCursor(from time.Time) int64 {
	if from.Before(minValidTime) {
		return 0
	}
	return from.Unix() - 1
}
