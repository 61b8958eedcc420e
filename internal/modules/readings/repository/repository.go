// Package repository stores sensor records in SQLite and serves them as a
// source.Source, so the dashboard can run without the hosted database.
package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nathancread/Moist-Meat/internal/source"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

//go:embed sql/get-readings-after.sql
var getReadingsAfterSQL string

//go:embed sql/get-readings-count.sql
var getReadingsCountSQL string

// listenerBuffer is how many live records a listener may fall behind by
// before it is disconnected.
const listenerBuffer = 256

var errListenerLagging = errors.New("listener fell behind the change feed")

type Repository struct {
	db     *sql.DB
	hub    *hub
	logger *slog.Logger
}

var _ source.Source = (*Repository)(nil)

func NewRepository(db *sql.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "readings-repository")
	return &Repository{db: db, hub: newHub(logger), logger: logger}
}

// Insert stores a record and notifies live listeners. Keys are unique; a
// record is never replaced.
func (r *Repository) Insert(ctx context.Context, rec source.RawRecord) error {
	if rec.Key == "" {
		return errors.New("insert reading: empty key")
	}
	stored := source.RawRecord{Key: rec.Key, Fields: make(map[string]any, 3)}
	args := []any{rec.Key}
	for _, name := range []string{source.FieldTimestamp, source.FieldTemperature, source.FieldHumidity} {
		v, err := storageValue(rec.Fields[name])
		if err != nil {
			return fmt.Errorf("insert reading %q: field %s: %w", rec.Key, name, err)
		}
		if v != nil {
			stored.Fields[name] = v
		}
		args = append(args, v)
	}

	if _, err := r.db.ExecContext(ctx, insertReadingSQL, args...); err != nil {
		return fmt.Errorf("insert reading %q: %w", rec.Key, err)
	}
	r.hub.publish(stored)
	return nil
}

// Fetch returns stored records sorted by timestamp. A positive startAfter
// keeps only records strictly after it (seconds).
func (r *Repository) Fetch(ctx context.Context, startAfter int64) ([]source.RawRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if startAfter > 0 {
		rows, err = r.db.QueryContext(ctx, getReadingsAfterSQL, startAfter)
	} else {
		rows, err = r.db.QueryContext(ctx, getReadingsSQL)
	}
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("close readings rows", "error", err)
		}
	}()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if startAfter > 0 {
		kept := records[:0]
		for _, rec := range records {
			if rec.After(startAfter) {
				kept = append(kept, rec)
			}
		}
		records = kept
	}
	source.SortByTimestamp(records)
	return records, nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, getReadingsCountSQL).Scan(&n)
	return n, err
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Listen replays stored records after startAfter and then follows inserts.
// The live subscription is taken before the replay query so no insert falls
// between the two.
func (r *Repository) Listen(ctx context.Context, startAfter int64, fn func(source.RawRecord)) (source.Listener, error) {
	lctx, cancel := context.WithCancel(ctx)
	sub := r.hub.subscribe(lctx, listenerBuffer)

	initial, err := r.Fetch(ctx, startAfter)
	if err != nil {
		cancel()
		return nil, err
	}

	l := &listener{cancel: cancel, done: make(chan struct{})}
	go l.run(lctx, sub, startAfter, initial, fn)
	return l, nil
}

type listener struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (l *listener) run(ctx context.Context, sub *subscriber, startAfter int64, initial []source.RawRecord, fn func(source.RawRecord)) {
	defer close(l.done)

	seen := make(map[string]struct{}, len(initial))
	for _, rec := range initial {
		seen[rec.Key] = struct{}{}
		if ctx.Err() != nil {
			return
		}
		fn(rec)
	}

	for {
		select {
		case <-sub.overflow:
			l.err = errListenerLagging
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-sub.overflow:
			l.err = errListenerLagging
			return
		case rec, ok := <-sub.ch:
			if !ok {
				return
			}
			if _, dup := seen[rec.Key]; dup {
				continue
			}
			seen[rec.Key] = struct{}{}
			if startAfter > 0 && !rec.After(startAfter) {
				continue
			}
			fn(rec)
		}
	}
}

func (l *listener) Done() <-chan struct{} { return l.done }

func (l *listener) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *listener) Stop() {
	l.cancel()
	<-l.done
}

func scanRecords(rows *sql.Rows) ([]source.RawRecord, error) {
	var out []source.RawRecord
	for rows.Next() {
		var key string
		var ts, temp, hum any
		if err := rows.Scan(&key, &ts, &temp, &hum); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		fields := make(map[string]any, 3)
		setField(fields, source.FieldTimestamp, ts)
		setField(fields, source.FieldTemperature, temp)
		setField(fields, source.FieldHumidity, hum)
		out = append(out, source.RawRecord{Key: key, Fields: fields})
	}
	return out, rows.Err()
}

func setField(fields map[string]any, name string, v any) {
	switch t := v.(type) {
	case nil:
	case []byte:
		fields[name] = string(t)
	default:
		fields[name] = t
	}
}

// storageValue converts a decoded JSON value into something SQLite stores
// with the same type. Anything else, booleans included, is kept as its JSON
// text.
func storageValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return t.String(), nil
		}
		return f, nil
	case float64, float32, int, int32, int64, string:
		return t, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}
