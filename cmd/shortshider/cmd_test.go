package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/shortshider"
	"github.com/hazyhaar/shortshider/dom/htmlpage"
	"github.com/hazyhaar/shortshider/internal/channel"
	"github.com/hazyhaar/shortshider/internal/config"
	"github.com/hazyhaar/shortshider/internal/prefstore"
)

const feedPage = `<html><head></head><body>
<ytd-rich-grid-renderer id="feed">
  <ytd-rich-shelf-renderer id="shelf" is-shorts><a href="/shorts/s1">s</a></ytd-rich-shelf-renderer>
  <ytd-video-renderer id="video"><a href="/watch?v=1">v</a></ytd-video-renderer>
</ytd-rich-grid-renderer>
</body></html>`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestInitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "shortshider.yaml")
	prefs := filepath.Join(dir, "prefs.db")

	if _, _, err := execute(t, "init", path, "--prefs", prefs); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(cfg.Pages) != 1 || cfg.Pages[0].URL != "https://www.youtube.com/" {
		t.Fatalf("pages: got %+v", cfg.Pages)
	}
	if cfg.Prefs.Path != prefs {
		t.Fatalf("prefs path: got %q, want %q", cfg.Prefs.Path, prefs)
	}

	store, err := prefstore.OpenSQLite(prefs)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	v, found, err := store.Get(context.Background(), prefstore.KeyShortsHidden)
	if err != nil || !found || !v {
		t.Fatalf("seeded preference: got %v, %v, %v", v, found, err)
	}

	if _, _, err := execute(t, "init", path, "--prefs", prefs); err == nil {
		t.Fatal("init over an existing config should fail without --force")
	}
	if _, _, err := execute(t, "init", path, "--prefs", prefs, "--force"); err != nil {
		t.Fatalf("init --force: %v", err)
	}
}

func TestScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.html")
	if err := os.WriteFile(path, []byte(feedPage), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "scan", path, "--log-level", "error")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !strings.Contains(out, "shelf-flag") || !strings.Contains(out, "ytd-rich-shelf-renderer#shelf /shorts/s1") {
		t.Fatalf("scan output missing the shelf:\n%s", out)
	}
	if strings.Contains(out, "#video") {
		t.Fatalf("scan reported a regular video:\n%s", out)
	}
	if !strings.HasSuffix(out, "1 hidden\n") {
		t.Fatalf("scan count:\n%s", out)
	}

	out, _, err = execute(t, "scan", path, "--render", "--log-level", "error")
	if err != nil {
		t.Fatalf("scan --render: %v", err)
	}
	if !strings.Contains(out, `data-shorts-hidden="true"`) || !strings.Contains(out, `class="hide-shorts"`) {
		t.Fatalf("rendered page missing the transform:\n%s", out)
	}
}

func TestScanMissingFile(t *testing.T) {
	if _, _, err := execute(t, "scan", filepath.Join(t.TempDir(), "nope.html")); err == nil {
		t.Fatal("scan of a missing file should fail")
	}
}

// daemon serves the channel for one real hider over a parsed page.
func daemon(t *testing.T) (addr string, h *shortshider.Hider) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h = shortshider.New(htmlpage.MustParse(feedPage), nil,
		shortshider.WithLogger(logger), shortshider.WithPageID("home"))

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})

	reg := shortshider.NewRegistry()
	reg.Add(h)
	srv := httptest.NewServer(channel.NewHTTPHandler(channel.NewRouter(channel.WithLogger(logger)), reg, logger))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://"), h
}

func TestToggleWritesStoreAndRelays(t *testing.T) {
	addr, h := daemon(t)
	prefs := filepath.Join(t.TempDir(), "prefs.json")

	out, errOut, err := execute(t, "toggle", "off", "--addr", addr, "--prefs-backend", "file", "--prefs", prefs)
	if err != nil {
		t.Fatalf("toggle: %v (%s)", err, errOut)
	}
	if out != "shorts hidden: off\n" || errOut != "" {
		t.Fatalf("toggle output: got %q / %q", out, errOut)
	}

	store, err := prefstore.OpenFile(prefs)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if v, found, _ := store.Get(context.Background(), prefstore.KeyShortsHidden); !found || v {
		t.Fatalf("stored preference: got %v, found %v, want false", v, found)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := h.Stats(ctx)
	if err != nil || s.IsHiding || s.Count != 0 {
		t.Fatalf("hider after toggle: got %+v, %v", s, err)
	}

	out, _, err = execute(t, "stats", "--addr", addr, "--page", "home")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.HasPrefix(out, "hiding: off\nhidden: 0\n") {
		t.Fatalf("stats output: %q", out)
	}
}

func TestToggleWithoutDaemon(t *testing.T) {
	prefs := filepath.Join(t.TempDir(), "prefs.db")
	_, errOut, err := execute(t, "toggle", "on", "--addr", "127.0.0.1:1", "--prefs", prefs)
	if err != nil {
		t.Fatalf("toggle with no daemon should still succeed: %v", err)
	}
	if !strings.Contains(errOut, "daemon not notified") {
		t.Fatalf("stderr: got %q", errOut)
	}
}

func TestToggleRejectsBadArg(t *testing.T) {
	if _, _, err := execute(t, "toggle", "maybe", "--prefs", filepath.Join(t.TempDir(), "p.db")); err == nil {
		t.Fatal("toggle maybe should fail")
	}
}

func TestStatsUnknownPage(t *testing.T) {
	addr, _ := daemon(t)
	if _, _, err := execute(t, "stats", "--addr", addr, "--page", "missing"); err == nil {
		t.Fatal("stats for an unknown page should fail")
	}
}

func TestRefreshAndPages(t *testing.T) {
	addr, _ := daemon(t)

	out, _, err := execute(t, "refresh", "--addr", addr)
	if err != nil || out != "ok\n" {
		t.Fatalf("refresh: got %q, %v", out, err)
	}

	out, _, err = execute(t, "pages", "--addr", addr)
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	if !strings.Contains(out, `"id": "home"`) || !strings.Contains(out, `"count": 1`) {
		t.Fatalf("pages output:\n%s", out)
	}
}

func TestFormatResponse(t *testing.T) {
	count, hiding, ts := 3, true, int64(1_700_000_000_000)
	tests := []struct {
		name string
		resp channel.Response
		want string
	}{
		{"error", channel.Response{Error: "Unknown action"}, "error: Unknown action"},
		{"ack", channel.Response{Success: true}, "ok"},
		{"stats", channel.Response{Success: true, Count: &count, IsHiding: &hiding, Timestamp: &ts},
			"hiding: on\nhidden: 3\nlast update: " + time.UnixMilli(ts).Format(time.RFC3339)},
		{"never", channel.Response{Success: true, Count: new(int), IsHiding: new(bool), Timestamp: new(int64)},
			"hiding: off\nhidden: 0\nlast update: never"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatResponse(tt.resp); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
