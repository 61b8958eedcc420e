package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/nathancread/Moist-Meat/internal/source"
)

// Subscription turns a callback-driven change feed into a channel the
// session consumes from its own goroutine.
type Subscription struct {
	c        chan source.RawRecord
	stopped  chan struct{}
	listener source.Listener
	once     sync.Once
}

// Subscribe attaches to feed starting strictly after the millisecond cursor
// sinceMs. Either a fully attached Subscription or an error is returned.
func Subscribe(ctx context.Context, feed source.Feed, sinceMs int64) (*Subscription, error) {
	s := &Subscription{
		c:       make(chan source.RawRecord),
		stopped: make(chan struct{}),
	}
	listener, err := feed.Listen(ctx, SourceCursor(sinceMs), s.deliver)
	if err != nil {
		return nil, fmt.Errorf("attach change feed: %w", err)
	}
	s.listener = listener
	return s, nil
}

// deliver hands one record to the consumer. It blocks until the record is
// received or the subscription is stopped, so nothing is queued.
func (s *Subscription) deliver(rec source.RawRecord) {
	select {
	case s.c <- rec:
	case <-s.stopped:
	}
}

// C yields records in the order the feed delivers them.
func (s *Subscription) C() <-chan source.RawRecord { return s.c }

// Done is closed when the feed ends on its own or after Unsubscribe.
func (s *Subscription) Done() <-chan struct{} { return s.listener.Done() }

// Err reports why the feed ended.
func (s *Subscription) Err() error { return s.listener.Err() }

// Unsubscribe detaches from the feed. Calls after the first are no-ops.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.stopped)
		s.listener.Stop()
	})
}
