// Package source defines the external data source the dashboard reads from:
// a one-shot ordered read for history and a change feed for the relay.
//
// Records are untrusted. Their "timestamp" field is stored in seconds, either
// as a number or a numeric string, and sensor fields may hold anything.
package source

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Field names used by sensor records.
const (
	FieldTimestamp   = "timestamp"
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
)

// RawRecord is a record as stored by the data source.
type RawRecord struct {
	Key    string
	Fields map[string]any
}

// Feed is the change-feed half of a Source.
type Feed interface {
	// Listen calls fn for every record whose timestamp is strictly after
	// startAfter (seconds), ordered by timestamp, and then for every record
	// added later. It returns once the listener is attached. fn is called
	// from a single goroutine and may block. fn is never called when Listen
	// returns an error.
	Listen(ctx context.Context, startAfter int64, fn func(RawRecord)) (Listener, error)
}

// Listener is an attached change-feed listener.
type Listener interface {
	// Done is closed once the feed has ended and fn will not be called again.
	Done() <-chan struct{}
	// Err reports why the feed ended. Valid after Done is closed.
	Err() error
	// Stop detaches the listener and waits for it to finish. Safe to call
	// more than once.
	Stop()
}

// Source is the data source shared by the relay and the historical loader.
type Source interface {
	Feed
	// Fetch reads every record ordered by timestamp. A positive startAfter
	// restricts the read to records strictly after it (seconds).
	Fetch(ctx context.Context, startAfter int64) ([]RawRecord, error)
	Ping(ctx context.Context) error
}

// Number coerces v to a float64 the way records store numbers: native
// numbers and numeric strings are accepted. The result may be non-finite.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case []byte:
		return Number(string(n))
	default:
		return 0, false
	}
}

// Timestamp returns the record's timestamp in seconds, if it is a finite number.
func (r RawRecord) Timestamp() (float64, bool) {
	ts, ok := Number(r.Fields[FieldTimestamp])
	if !ok || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return 0, false
	}
	return ts, true
}

// After reports whether the record belongs in a feed that starts strictly
// after cursor. Records without a numeric timestamp are kept so the reader
// can reject and log them.
func (r RawRecord) After(cursor int64) bool {
	ts, ok := r.Timestamp()
	if !ok {
		return true
	}
	return ts > float64(cursor)
}

// SortByTimestamp orders records by timestamp, then key. Records without a
// numeric timestamp sort last.
func SortByTimestamp(records []RawRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, oki := records[i].Timestamp()
		tj, okj := records[j].Timestamp()
		switch {
		case oki && !okj:
			return true
		case !oki && okj:
			return false
		case oki && okj && ti != tj:
			return ti < tj
		}
		return records[i].Key < records[j].Key
	})
}
