package prefstore

import (
	"context"
	"maps"
	"sync"
)

// Memory is an in-process Store. FailWith makes every call fail, to
// exercise store-unavailable paths.
type Memory struct {
	mu   sync.Mutex
	vals map[string]bool
	err  error
	hub  *hub
	opts options
}

// NewMemory returns an empty Memory store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{vals: make(map[string]bool), hub: newHub(), opts: newOptions(opts)}
}

// FailWith makes subsequent Get and Set calls fail with err wrapped in an
// AccessError. A nil err restores normal operation.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (bool, bool, error) {
	if m.hub.isClosed() {
		return false, false, &AccessError{Op: "get", Key: key, Err: ErrClosed}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, false, &AccessError{Op: "get", Key: key, Err: m.err}
	}
	v, ok := m.vals[key]
	return v, ok, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value bool) error {
	if m.hub.isClosed() {
		return &AccessError{Op: "set", Key: key, Err: ErrClosed}
	}
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return &AccessError{Op: "set", Key: key, Err: err}
	}
	m.vals[key] = value
	m.mu.Unlock()
	m.hub.kick()
	return nil
}

// Watch implements Store.
func (m *Memory) Watch(ctx context.Context) <-chan Change {
	return m.hub.watch(ctx, m.opts.logger, nil, m.snapshot)
}

// Close stops watchers.
func (m *Memory) Close() error {
	m.hub.close()
	return nil
}

func (m *Memory) snapshot(context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, &AccessError{Op: "snapshot", Err: m.err}
	}
	return maps.Clone(m.vals), nil
}
