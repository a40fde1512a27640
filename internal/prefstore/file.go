package prefstore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// File stores preferences as a flat JSON object. Non-boolean members are
// preserved on write but invisible to Get. Writes are atomic (temp file +
// rename), and Watch follows the containing directory with fsnotify so that
// editors and other processes replacing the file are seen.
type File struct {
	path string
	opts options
	hub  *hub
	mu   sync.Mutex
}

// OpenFile returns a store backed by the JSON file at path. The file need
// not exist yet; its directory is created.
func OpenFile(path string, opts ...Option) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &AccessError{Op: "open", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, &AccessError{Op: "open", Err: err}
	}
	return &File{path: abs, opts: newOptions(opts), hub: newHub()}, nil
}

// Path returns the absolute file path.
func (f *File) Path() string { return f.path }

// Get implements Store.
func (f *File) Get(ctx context.Context, key string) (bool, bool, error) {
	if f.hub.isClosed() {
		return false, false, &AccessError{Op: "get", Key: key, Err: ErrClosed}
	}
	m, err := f.snapshot(ctx)
	if err != nil {
		return false, false, &AccessError{Op: "get", Key: key, Err: err}
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set implements Store.
func (f *File) Set(_ context.Context, key string, value bool) error {
	if f.hub.isClosed() {
		return &AccessError{Op: "set", Key: key, Err: ErrClosed}
	}
	f.mu.Lock()
	err := f.update(key, value)
	f.mu.Unlock()
	if err != nil {
		return &AccessError{Op: "set", Key: key, Err: err}
	}
	f.hub.kick()
	return nil
}

// Watch implements Store.
func (f *File) Watch(ctx context.Context) <-chan Change {
	return f.hub.watch(ctx, f.opts.logger, f.notify, f.snapshot)
}

// Close stops watchers.
func (f *File) Close() error {
	f.hub.close()
	return nil
}

func (f *File) readRaw() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	raw := map[string]json.RawMessage{}
	if len(data) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (f *File) snapshot(context.Context) (map[string]bool, error) {
	raw, err := f.readRaw()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(raw))
	for k, v := range raw {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			out[k] = b
		}
	}
	return out, nil
}

func (f *File) update(key string, value bool) error {
	raw, err := f.readRaw()
	if err != nil {
		return err
	}
	raw[key], _ = json.Marshal(value)

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".prefs-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// notify signals on every filesystem event touching the file. When the
// platform watcher is unavailable it falls back to polling the mtime.
func (f *File) notify(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	signal := func() {
		select {
		case out <- struct{}{}:
		default:
		}
	}

	w, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.Add(filepath.Dir(f.path))
		if err != nil {
			w.Close()
		}
	}
	if err != nil {
		f.opts.logger.Warn("prefstore: fsnotify unavailable, polling", "path", f.path, "error", err)
		go f.pollModTime(ctx, signal)
		return out
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == f.path {
					signal()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				f.opts.logger.Warn("prefstore: fsnotify error", "error", err)
			}
		}
	}()
	return out
}

func (f *File) pollModTime(ctx context.Context, signal func()) {
	ticker := time.NewTicker(f.opts.interval)
	defer ticker.Stop()
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		fi, err := os.Stat(f.path)
		if err != nil {
			continue
		}
		if !fi.ModTime().Equal(last) {
			last = fi.ModTime()
			signal()
		}
	}
}
