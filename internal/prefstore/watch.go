package prefstore

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Option configures a Store backend.
type Option func(*options)

type options struct {
	interval time.Duration
	logger   *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{interval: time.Second, logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithPollInterval sets how often external writes are checked for. Default 1s.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// hub tracks the watch loops of one store. Local writes kick every loop so
// a watcher sees its own process's Set without waiting for a poll.
type hub struct {
	mu     sync.Mutex
	kicks  map[chan struct{}]struct{}
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func newHub() *hub {
	return &hub{kicks: make(map[chan struct{}]struct{}), done: make(chan struct{})}
}

func (h *hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *hub) kick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.kicks {
		select {
		case k <- struct{}{}:
		default:
		}
	}
}

// close stops every loop and waits for them. It reports false when the hub
// was already closed.
func (h *hub) close() bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()
	h.wg.Wait()
	return true
}

// snapshotFunc reads every stored preference.
type snapshotFunc func(ctx context.Context) (map[string]bool, error)

// triggerFunc starts a producer of external-change signals. It must stop
// sending once ctx is done.
type triggerFunc func(ctx context.Context) <-chan struct{}

// watch starts a loop that re-reads the store on every local kick and on
// every signal from the trigger, emitting the differences. trigger may be
// nil. The returned channel is closed when ctx ends or the hub closes.
func (h *hub) watch(ctx context.Context, logger *slog.Logger, trigger triggerFunc, snapshot snapshotFunc) <-chan Change {
	ch := make(chan Change, 8)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	kick := make(chan struct{}, 1)
	h.kicks[kick] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	var external <-chan struct{}
	if trigger != nil {
		external = trigger(ctx)
	}
	prev, err := snapshot(ctx)
	seeded := err == nil
	if err != nil {
		logger.Warn("prefstore: initial snapshot failed", "error", err)
	}

	go func() {
		defer h.wg.Done()
		defer close(ch)
		defer cancel()
		defer func() {
			h.mu.Lock()
			delete(h.kicks, kick)
			h.mu.Unlock()
		}()

		refresh := func() bool {
			next, err := snapshot(ctx)
			if err != nil {
				logger.Warn("prefstore: snapshot failed", "error", err)
				return true
			}
			if !seeded {
				prev, seeded = next, true
				return true
			}
			changes := diff(prev, next)
			prev = next
			for _, c := range changes {
				logger.Debug("prefstore: changed", "key", c.Key)
				select {
				case ch <- c:
				case <-ctx.Done():
					return false
				case <-h.done:
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-kick:
			case <-external:
			}
			if !refresh() {
				return
			}
		}
	}()
	return ch
}
