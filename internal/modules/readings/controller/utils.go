package controller

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
	_ "time/tzdata" // tz= on hosts without a zone database

	"github.com/nathancread/Moist-Meat/internal/modules/readings/service"
)

const maxReadingsLimit = 10000

// parseReadingsQuery reads the history window (hours, or from/to), the zone
// naive from/to values are read in (tz, defaulting to loc) and an optional
// limit on the number of newest readings returned.
func parseReadingsQuery(r *http.Request, loc *time.Location) (q service.Query, limit int, err error) {
	v := r.URL.Query()

	q.Location = loc
	if q.Location == nil {
		q.Location = time.UTC
	}
	if s := v.Get("tz"); s != "" {
		q.Location, err = time.LoadLocation(s)
		if err != nil {
			return service.Query{}, 0, errors.New("invalid 'tz' (expected IANA zone name)")
		}
	}

	if s := v.Get("hours"); s != "" {
		h, convErr := strconv.ParseFloat(s, 64)
		if convErr != nil || math.IsNaN(h) || math.IsInf(h, 0) {
			return service.Query{}, 0, errors.New("invalid 'hours' (expected number)")
		}
		if h <= 0 {
			return service.Query{}, 0, errors.New("'hours' must be > 0")
		}
		if h > service.MaxHours {
			return service.Query{}, 0, fmt.Errorf("'hours' must be <= %.0f", service.MaxHours)
		}
		q.Hours = h
	}
	if s := v.Get("from"); s != "" {
		q.From, q.FromNaive, err = service.ParseTime(s, q.Location)
		if err != nil {
			return service.Query{}, 0, errors.New("invalid 'from' (expected RFC3339 or epoch seconds/ms)")
		}
	}
	if s := v.Get("to"); s != "" {
		q.To, q.ToNaive, err = service.ParseTime(s, q.Location)
		if err != nil {
			return service.Query{}, 0, errors.New("invalid 'to' (expected RFC3339 or epoch seconds/ms)")
		}
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return service.Query{}, 0, errors.New("'from' must be <= 'to'")
	}

	if s := v.Get("limit"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return service.Query{}, 0, errors.New("invalid 'limit' (expected integer)")
		}
		if n <= 0 {
			return service.Query{}, 0, errors.New("'limit' must be > 0")
		}
		if n > maxReadingsLimit {
			return service.Query{}, 0, errors.New("'limit' must be <= 10000")
		}
		limit = n
	}

	return q, limit, nil
}
