package prefstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/shortshider/dbopen"
)

func waitChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed")
		}
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return Change{}
}

func expectNoChange(t *testing.T, ch <-chan Change, d time.Duration) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(d):
	}
}

func checkChange(t *testing.T, c Change, key string, old *bool, new bool) {
	t.Helper()
	if c.Key != key {
		t.Fatalf("key: got %q, want %q", c.Key, key)
	}
	if c.New == nil || *c.New != new {
		t.Fatalf("new: got %v, want %v", c.New, new)
	}
	switch {
	case old == nil && c.Old != nil:
		t.Fatalf("old: got %v, want nil", *c.Old)
	case old != nil && (c.Old == nil || *c.Old != *old):
		t.Fatalf("old: got %v, want %v", c.Old, *old)
	}
}

// storeContract runs the behaviour every backend shares.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, found, err := s.Get(ctx, KeyShortsHidden); err != nil || found {
		t.Fatalf("Get on empty store: found=%v err=%v", found, err)
	}
	if v, err := ShortsHidden(ctx, s); err != nil || v != DefaultShortsHidden {
		t.Fatalf("ShortsHidden default: got %v (%v), want %v", v, err, DefaultShortsHidden)
	}

	changes := s.Watch(ctx)

	seeded, err := EnsureDefaults(ctx, s)
	if err != nil || !seeded {
		t.Fatalf("EnsureDefaults: seeded=%v err=%v", seeded, err)
	}
	checkChange(t, waitChange(t, changes), KeyShortsHidden, nil, true)

	if seeded, _ := EnsureDefaults(ctx, s); seeded {
		t.Fatal("EnsureDefaults twice: seeded again")
	}

	if err := s.Set(ctx, KeyShortsHidden, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	tr := true
	checkChange(t, waitChange(t, changes), KeyShortsHidden, &tr, false)

	v, found, err := s.Get(ctx, KeyShortsHidden)
	if err != nil || !found || v {
		t.Fatalf("Get after Set: got (%v, %v, %v), want (false, true, nil)", v, found, err)
	}

	// Writing the same value is not a change.
	if err := s.Set(ctx, KeyShortsHidden, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	expectNoChange(t, changes, 150*time.Millisecond)

	cancel()
	select {
	case _, ok := <-changes:
		if ok {
			// Drain a racing change, the channel must still close.
			for range changes {
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, _, err = s.Get(context.Background(), KeyShortsHidden)
	var ae *AccessError
	if !errors.As(err, &ae) || !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close: got %v, want AccessError wrapping ErrClosed", err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s, err := NewSQLite(context.Background(), db, WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	storeContract(t, s)
}

func TestFileStore(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "prefs", "prefs.json"), WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	storeContract(t, s)
}

func TestSQLiteSeesOtherProcessWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	daemon, err := OpenSQLite(path, WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer daemon.Close()
	cli, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer cli.Close()

	ctx := context.Background()
	changes := daemon.Watch(ctx)

	if err := cli.Set(ctx, KeyShortsHidden, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	checkChange(t, waitChange(t, changes), KeyShortsHidden, nil, false)
}

func TestFileSeesExternalRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prefs.json")
	if err := os.WriteFile(path, []byte(`{"shortsHidden": true, "theme": "dark"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := OpenFile(path, WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	changes := s.Watch(ctx)

	// Replace the file the way editors do, so no reader sees it half written.
	tmp := filepath.Join(dir, "prefs.json.new")
	if err := os.WriteFile(tmp, []byte(`{"shortsHidden": false, "theme": "dark"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	tr := true
	checkChange(t, waitChange(t, changes), KeyShortsHidden, &tr, false)

	// Non-boolean members survive a Set.
	if err := s.Set(ctx, "autoHide", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"theme": "dark"`) {
		t.Fatalf("theme lost on write: %s", data)
	}
}

func TestFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	_, _, err = s.Get(context.Background(), KeyShortsHidden)
	var ae *AccessError
	if !errors.As(err, &ae) {
		t.Fatalf("got %v, want *AccessError", err)
	}
}

func TestMemoryFailWith(t *testing.T) {
	m := NewMemory()
	boom := errors.New("storage offline")
	m.FailWith(boom)

	if _, err := ShortsHidden(context.Background(), m); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	if err := m.Set(context.Background(), KeyShortsHidden, true); !errors.Is(err, boom) {
		t.Fatalf("Set: got %v, want %v", err, boom)
	}
	m.FailWith(nil)
	if err := m.Set(context.Background(), KeyShortsHidden, true); err != nil {
		t.Fatalf("Set after recovery: %v", err)
	}
}

func TestDiff(t *testing.T) {
	prev := map[string]bool{"a": true, "b": false, "gone": true}
	next := map[string]bool{"a": true, "b": true, "new": false}

	got := map[string]Change{}
	for _, c := range diff(prev, next) {
		got[c.Key] = c
	}
	if len(got) != 3 {
		t.Fatalf("got %d changes, want 3: %+v", len(got), got)
	}
	if c := got["b"]; c.Old == nil || *c.Old || c.New == nil || !*c.New {
		t.Errorf("b: got %+v", c)
	}
	if c := got["new"]; c.Old != nil || c.New == nil || *c.New {
		t.Errorf("new: got %+v", c)
	}
	if c := got["gone"]; c.Old == nil || !*c.Old || c.New != nil {
		t.Errorf("gone: got %+v", c)
	}
}
