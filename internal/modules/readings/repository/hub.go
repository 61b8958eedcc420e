package repository

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nathancread/Moist-Meat/internal/source"
)

type subscriber struct {
	ch       chan source.RawRecord
	overflow chan struct{}
	once     sync.Once
}

// hub fans stored records out to live listeners. A listener that falls a
// full buffer behind is cut off instead of silently missing records.
type hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// subscribe registers a listener until ctx is done, at which point its
// channel is closed.
func (h *hub) subscribe(ctx context.Context, buf int) *subscriber {
	sub := &subscriber{
		ch:       make(chan source.RawRecord, buf),
		overflow: make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, sub)
		close(sub.ch)
		h.mu.Unlock()
	}()
	return sub
}

func (h *hub) publish(rec source.RawRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- rec:
		default:
			sub.once.Do(func() {
				h.logger.Warn("listener lagging, disconnecting", "key", rec.Key)
				close(sub.overflow)
			})
		}
	}
}

func (h *hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
