// Package prefstore persists the boolean preferences that drive hiding.
//
// Three backends share the Store interface: SQLite (the daemon default,
// safe to share with the toggle CLI), a JSON file watched with fsnotify, and
// an in-process Memory store. Watch delivers a Change only when a value
// actually differs from what the watcher last saw, whoever wrote it.
package prefstore

import (
	"context"
	"errors"
	"fmt"
)

// KeyShortsHidden is the preference controlling hiding.
const KeyShortsHidden = "shortsHidden"

// DefaultShortsHidden applies when KeyShortsHidden was never written.
const DefaultShortsHidden = true

// Change reports a preference transition. Old is nil when the key was
// absent, New is nil when it was deleted.
type Change struct {
	Key string
	Old *bool
	New *bool
}

// Store is a boolean key-value store with change notification.
type Store interface {
	Get(ctx context.Context, key string) (value bool, found bool, err error)
	Set(ctx context.Context, key string, value bool) error
	// Watch streams changes until ctx is done or the store is closed, then
	// closes the channel.
	Watch(ctx context.Context) <-chan Change
	Close() error
}

// AccessError reports a failed read or write on the backing store.
type AccessError struct {
	Op  string
	Key string
	Err error
}

func (e *AccessError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("prefstore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("prefstore: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// ErrClosed is wrapped by operations on a closed store.
var ErrClosed = errors.New("prefstore: closed")

// EnsureDefaults writes DefaultShortsHidden when the key is absent and
// reports whether it did.
func EnsureDefaults(ctx context.Context, s Store) (bool, error) {
	_, found, err := s.Get(ctx, KeyShortsHidden)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	if err := s.Set(ctx, KeyShortsHidden, DefaultShortsHidden); err != nil {
		return false, err
	}
	return true, nil
}

// ShortsHidden reads KeyShortsHidden, falling back to the default when the
// key is absent.
func ShortsHidden(ctx context.Context, s Store) (bool, error) {
	v, found, err := s.Get(ctx, KeyShortsHidden)
	if err != nil {
		return DefaultShortsHidden, err
	}
	if !found {
		return DefaultShortsHidden, nil
	}
	return v, nil
}

// diff returns the changes turning prev into next.
func diff(prev, next map[string]bool) []Change {
	var out []Change
	for k, nv := range next {
		ov, ok := prev[k]
		if ok && ov == nv {
			continue
		}
		c := Change{Key: k, New: boolPtr(nv)}
		if ok {
			c.Old = boolPtr(ov)
		}
		out = append(out, c)
	}
	for k, ov := range prev {
		if _, ok := next[k]; !ok {
			out = append(out, Change{Key: k, Old: boolPtr(ov)})
		}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
