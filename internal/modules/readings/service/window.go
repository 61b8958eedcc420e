package service

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// hoursBuffer widens an hours= window on both sides so readings near the
// edges are not lost to sensor clock drift.
const hoursBuffer = 30 * time.Minute

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e11

// maxEpochMillis is 9999-12-31T23:59:59.999Z.
const maxEpochMillis = 253402300799999

// MaxHours is the largest hours= value whose window still fits a
// time.Duration.
var MaxHours = float64((math.MaxInt64 - int64(hoursBuffer)) / int64(time.Hour))

// naiveLayouts are accepted date-times without a zone; they are read in the
// query's location.
var naiveLayouts = []string{
	time.DateTime,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// Query selects a history window. Hours takes precedence over From/To; an
// empty Query selects the default window ending now.
type Query struct {
	Hours float64
	From  time.Time
	To    time.Time
	// Location is the zone naive From/To values were read in. FromNaive and
	// ToNaive mark those bounds so an empty result can be retried as UTC.
	Location  *time.Location
	FromNaive bool
	ToNaive   bool
}

// Window is an inclusive time range.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Resolve turns q into a concrete window relative to now.
func (q Query) Resolve(now time.Time, defaultWindow time.Duration) (Window, error) {
	if q.Hours < 0 || math.IsNaN(q.Hours) || math.IsInf(q.Hours, 0) {
		return Window{}, errors.New("'hours' must be a positive number")
	}
	if q.Hours > MaxHours {
		return Window{}, fmt.Errorf("'hours' must be <= %.0f", MaxHours)
	}
	if q.Hours > 0 {
		d := time.Duration(q.Hours * float64(time.Hour))
		return Window{From: now.Add(-d - hoursBuffer), To: now.Add(hoursBuffer)}, nil
	}

	w := Window{From: q.From, To: q.To}
	if w.To.IsZero() {
		w.To = now
	}
	if w.From.IsZero() {
		w.From = w.To.Add(-defaultWindow)
	}
	if w.From.After(w.To) {
		return Window{}, errors.New("'from' must be <= 'to'")
	}
	return Window{From: w.From.UTC(), To: w.To.UTC()}, nil
}

// UTCFallback returns q with its naive bounds re-read as UTC wall times. ok is
// false when that would select the same window.
func (q Query) UTCFallback() (Query, bool) {
	if q.Hours > 0 || q.Location == nil || q.Location == time.UTC || (!q.FromNaive && !q.ToNaive) {
		return q, false
	}
	alt := q
	alt.Location = time.UTC
	if q.FromNaive {
		alt.From = sameWallClock(q.From, q.Location, time.UTC)
	}
	if q.ToNaive {
		alt.To = sameWallClock(q.To, q.Location, time.UTC)
	}
	if alt.From.Equal(q.From) && alt.To.Equal(q.To) {
		return q, false
	}
	return alt, true
}

func sameWallClock(t time.Time, from, to *time.Location) time.Time {
	t = t.In(from)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), to)
}

// ParseTime accepts RFC3339, a date-time without zone ("2006-01-02 15:04:05",
// "2006-01-02T15:04:05" or "2006-01-02") read in loc, or epoch seconds or
// milliseconds. Numbers above 1e11 are taken as milliseconds. naive reports
// whether s carried no zone. A nil loc means UTC.
func ParseTime(s string, loc *time.Location) (t time.Time, naive bool, err error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return time.Time{}, false, fmt.Errorf("invalid time %q", s)
		}
		ms := n
		if n <= epochMillisThreshold {
			ms = math.Round(n * 1000)
		}
		if ms < 0 || ms > maxEpochMillis {
			return time.Time{}, false, fmt.Errorf("time %q out of range", s)
		}
		return time.UnixMilli(int64(ms)).UTC(), false, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("invalid time %q (expected RFC3339 or epoch seconds/ms)", s)
}
