package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/nathancread/Moist-Meat/internal/errreport"
	"github.com/nathancread/Moist-Meat/internal/metrics"
	"github.com/nathancread/Moist-Meat/internal/modules/readings/types"
	"github.com/nathancread/Moist-Meat/internal/source"
)

// DefaultTimeout bounds how long a stream stays open, regardless of activity.
const DefaultTimeout = 5 * time.Minute

type State int

const (
	StateInit State = iota
	StateStarting
	StateOpen
	StateFailing
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateOpen:
		return "open"
	case StateFailing:
		return "failing"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CloseReason records what ended a session.
type CloseReason string

const (
	ReasonClientGone      CloseReason = "client_gone"
	ReasonTimeout         CloseReason = "timeout"
	ReasonWriteFailed     CloseReason = "write_failed"
	ReasonFeedEnded       CloseReason = "feed_ended"
	ReasonSubscribeFailed CloseReason = "subscribe_failed"
)

var errSessionClosed = errors.New("session closed")

type Config struct {
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Reporter defaults to a logging reporter.
	Reporter errreport.Reporter
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Session relays one client's change feed: it owns the subscription and the
// timeout timer and releases both exactly once, whichever way it ends.
type Session struct {
	since    int64
	feed     source.Feed
	out      EventWriter
	timeout  time.Duration
	clock    clock.Clock
	reporter errreport.Reporter
	logger   *slog.Logger
	encode   func(types.Reading) ([]byte, error)

	mu      sync.Mutex
	state   State
	reason  CloseReason
	timer   clock.Timer
	sub     *Subscription
	started time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession prepares a session for a validated since cursor (milliseconds).
func NewSession(since int64, feed source.Feed, out EventWriter, cfg Config) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = errreport.NewLog(cfg.Logger)
	}
	return &Session{
		since:    since,
		feed:     feed,
		out:      out,
		timeout:  cfg.Timeout,
		clock:    cfg.Clock,
		reporter: cfg.Reporter,
		logger:   cfg.Logger.With("since", since),
		encode:   Encode,
		state:    StateInit,
		done:     make(chan struct{}),
	}
}

// Run streams until ctx is done, the timeout fires, the feed ends, the client
// stops accepting writes, or Close is called. A nil error means the session
// ended normally (disconnect, timeout, or Close).
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.started = s.clock.Now()
	s.timer = s.clock.NewTimer(s.timeout)
	timer := s.timer
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	// feedCtx is also cancelled when the timeout or Close fires mid-attach.
	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()

	sub, err := s.subscribe(feedCtx, cancelFeed, timer)
	if err != nil {
		return s.fail(ctx, err)
	}
	if !s.attach(sub) {
		return nil
	}
	if err := s.open(); err != nil {
		s.Close(ReasonWriteFailed)
		if errors.Is(err, errSessionClosed) {
			return nil
		}
		return fmt.Errorf("open stream: %w", err)
	}
	s.logger.Info("stream opened", "timeout", s.timeout)

	for {
		select {
		case <-ctx.Done():
			s.Close(ReasonClientGone)
			return nil
		case <-timer.Chan():
			s.Close(ReasonTimeout)
			return nil
		case <-s.done:
			return nil
		case <-sub.Done():
			if ctx.Err() != nil {
				s.Close(ReasonClientGone)
				return nil
			}
			feedErr := sub.Err()
			if feedErr == nil {
				feedErr = errors.New("change feed ended")
			}
			s.logger.Error("change feed ended", "error", feedErr)
			s.reporter.Capture(ctx, feedErr, map[string]string{"component": "relay", "stage": "feed"})
			s.Close(ReasonFeedEnded)
			return fmt.Errorf("change feed: %w", feedErr)
		case rec := <-sub.C():
			if err := s.handle(ctx, rec); err != nil {
				s.logger.Info("stream write failed", "error", err)
				s.Close(ReasonWriteFailed)
				return nil
			}
		}
	}
}

// Close tears the session down. It is safe to call from any goroutine and
// any number of times; only the first call has an effect.
func (s *Session) Close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		timer, sub := s.timer, s.sub
		s.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		if sub != nil {
			sub.Unsubscribe()
		}

		s.mu.Lock()
		s.state = StateClosed
		s.reason = reason
		started := s.started
		s.mu.Unlock()
		close(s.done)

		metrics.SessionCloses.WithLabelValues(string(reason)).Inc()
		attrs := []any{"reason", reason}
		if !started.IsZero() {
			attrs = append(attrs, "duration", s.clock.Now().Sub(started))
		}
		s.logger.Info("stream closed", attrs...)
	})
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason reports why the session closed; empty while it is still running.
func (s *Session) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// subscribe attaches to the feed while still honouring the timeout and Close:
// a feed that never answers is abandoned once either fires. The watcher exits
// before subscribe returns, so Run owns the timer channel afterwards.
func (s *Session) subscribe(ctx context.Context, cancel context.CancelFunc, timer clock.Timer) (*Subscription, error) {
	attached := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case <-timer.Chan():
			s.Close(ReasonTimeout)
			cancel()
		case <-s.done:
			cancel()
		case <-attached:
		}
	}()

	sub, err := Subscribe(ctx, s.feed, s.since)
	close(attached)
	<-watched
	return sub, err
}

func (s *Session) attach(sub *Subscription) bool {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return false
	}
	s.sub = sub
	s.mu.Unlock()
	return true
}

func (s *Session) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStarting {
		return errSessionClosed
	}
	if err := s.out.Open(); err != nil {
		return err
	}
	s.state = StateOpen
	return nil
}

// fail handles a subscription that could not be attached: the client gets a
// single error event and the session closes.
func (s *Session) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		s.Close(ReasonClientGone)
		return nil
	}

	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateFailing
	if openErr := s.out.Open(); openErr == nil {
		_ = s.out.Write(EncodeError("subscription failed"))
	}
	s.mu.Unlock()

	s.logger.Error("subscribe failed", "error", err)
	s.reporter.Capture(ctx, err, map[string]string{"component": "relay", "stage": "subscribe"})
	s.Close(ReasonSubscribeFailed)
	return fmt.Errorf("subscribe: %w", err)
}

// handle processes one notification. Only a failed write is returned; a bad
// record is dropped and the stream carries on.
func (s *Session) handle(ctx context.Context, rec source.RawRecord) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.fault(ctx, rec, fmt.Errorf("panic handling record %q: %v", rec.Key, p))
			err = nil
		}
	}()

	reading, verr := types.Validate(rec)
	if verr != nil {
		metrics.RecordsRejected.Inc()
		s.logger.Warn("record rejected", "key", rec.Key, "error", verr)
		return nil
	}
	if reading.Timestamp <= s.since {
		s.logger.Debug("record at or before cursor skipped", "key", reading.Key, "timestamp", reading.Timestamp)
		return nil
	}

	event, eerr := s.encode(reading)
	if eerr != nil {
		s.fault(ctx, rec, eerr)
		return nil
	}
	if err := s.write(event); err != nil {
		return err
	}
	metrics.EventsSent.Inc()
	return nil
}

func (s *Session) write(event []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return errSessionClosed
	}
	return s.out.Write(event)
}

func (s *Session) fault(ctx context.Context, rec source.RawRecord, err error) {
	metrics.RecordFaults.Inc()
	s.logger.Error("record dropped", "key", rec.Key, "error", err)
	s.reporter.Capture(ctx, err, map[string]string{"component": "relay", "stage": "record", "key": rec.Key})
}
