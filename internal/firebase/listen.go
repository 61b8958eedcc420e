package firebase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/r3labs/sse/v2"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/nathancread/Moist-Meat/internal/source"
)

// The initial snapshot arrives as a single event.
const maxEventSize = 16 << 20

var (
	errCanceled    = errors.New("firebase stream canceled by server")
	errAuthRevoked = errors.New("firebase stream credentials revoked")
	errStreamEnded = errors.New("firebase stream closed by server")
)

// Listen opens the streaming endpoint of the location. Each child is
// delivered once, when first seen: the initial snapshot in timestamp order,
// then children as they are added. Changes to known children and deletions
// are ignored. The stream is not reopened when it drops.
func (s *Source) Listen(ctx context.Context, startAfter int64, fn func(source.RawRecord)) (source.Listener, error) {
	client, err := s.httpClient()
	if err != nil {
		return nil, err
	}
	ordered := startAfter > 0
	l, err := s.listen(ctx, client, startAfter, ordered, fn)
	if ordered && errors.Is(err, errIndexNotDefined) {
		s.logger.Warn("timestamp index missing, streaming unfiltered")
		l, err = s.listen(ctx, client, startAfter, false, fn)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Source) listen(ctx context.Context, client *http.Client, startAfter int64, ordered bool, fn func(source.RawRecord)) (*listener, error) {
	lctx, cancel := context.WithCancel(ctx)
	l := &listener{cancel: cancel, done: make(chan struct{})}
	attached := make(chan error, 1)

	c := sse.NewClient(s.endpoint(startAfter, ordered), sse.ClientMaxBufferSize(maxEventSize))
	c.Connection = client
	c.ReconnectStrategy = &backoff.StopBackOff{}
	c.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			err := responseError(resp)
			attached <- err
			return err
		}
		attached <- nil
		return nil
	}

	f := &feed{startAfter: startAfter, seen: make(map[string]struct{}), fn: fn, source: s}
	go l.run(lctx, c, f)

	select {
	case err := <-attached:
		if err != nil {
			l.Stop()
			return nil, err
		}
		return l, nil
	case <-l.done:
		select {
		case err := <-attached:
			if err == nil {
				return l, nil
			}
			return nil, err
		default:
		}
		if l.err != nil {
			return nil, l.err
		}
		return nil, errStreamEnded
	case <-ctx.Done():
		l.Stop()
		return nil, ctx.Err()
	}
}

type listener struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (l *listener) run(ctx context.Context, c *sse.Client, f *feed) {
	defer close(l.done)

	var feedErr error
	err := c.SubscribeRawWithContext(ctx, func(ev *sse.Event) {
		if feedErr != nil {
			return
		}
		if feedErr = f.apply(string(ev.Event), ev.Data); feedErr != nil {
			l.cancel()
		}
	})

	switch {
	case feedErr != nil:
		l.err = feedErr
	case ctx.Err() != nil:
	case err != nil:
		l.err = fmt.Errorf("firebase stream: %w", err)
	default:
		l.err = errStreamEnded
	}
	f.source.logger.Debug("firebase stream ended", "error", l.err)
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

// feed tracks which children have been delivered so that every child is
// reported at most once.
type feed struct {
	startAfter int64
	seen       map[string]struct{}
	fn         func(source.RawRecord)
	source     *Source
}

func (f *feed) apply(event string, data []byte) error {
	switch event {
	case "put", "patch":
	case "keep-alive":
		return nil
	case "cancel":
		return fmt.Errorf("%w: %s", errCanceled, strings.TrimSpace(string(data)))
	case "auth_revoked":
		return errAuthRevoked
	default:
		f.source.logger.Debug("firebase event ignored", "event", event)
		return nil
	}

	v, err := decode(data)
	if err != nil {
		f.source.logger.Warn("firebase event undecodable", "event", event, "error", err)
		return nil
	}
	msg, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	path, _ := msg["path"].(string)
	payload := msg["data"]

	if path == "/" {
		m, _ := payload.(map[string]any)
		var added []source.RawRecord
		for key, child := range m {
			// Multi-path updates ("a/temperature") change fields of a child.
			if strings.Contains(key, "/") {
				continue
			}
			if child == nil {
				delete(f.seen, key)
				continue
			}
			if r, ok := f.add(key, child); ok {
				added = append(added, r)
			}
		}
		source.SortByTimestamp(added)
		for _, r := range added {
			f.fn(r)
		}
		return nil
	}

	// A put or patch below a single child is a field change.
	key := strings.Trim(path, "/")
	if event != "put" || key == "" || strings.Contains(key, "/") {
		return nil
	}
	if payload == nil {
		delete(f.seen, key)
		return nil
	}
	if r, ok := f.add(key, payload); ok {
		f.fn(r)
	}
	return nil
}

func (f *feed) add(key string, v any) (source.RawRecord, bool) {
	if _, dup := f.seen[key]; dup {
		return source.RawRecord{}, false
	}
	f.seen[key] = struct{}{}
	r := record(key, v)
	if f.startAfter > 0 && !r.After(f.startAfter) {
		return source.RawRecord{}, false
	}
	return r, true
}
