// Command shortshider hides YouTube Shorts in a Chrome tab it drives.
//
// Usage:
//
//	shortshider init                       # write shortshider.yaml, seed the preference
//	shortshider run -c shortshider.yaml    # guard the configured pages
//	shortshider run --url https://www.youtube.com/ --mcp
//	shortshider toggle off                 # show Shorts again
//	shortshider stats                      # ask the running daemon
//	shortshider scan page.html             # classify a saved page offline
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/shortshider/internal/channel"
	"github.com/hazyhaar/shortshider/internal/config"
	"github.com/hazyhaar/shortshider/internal/prefstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds the persistent flags shared by every command.
type app struct {
	configPath   string
	logLevel     string
	addr         string
	prefsBackend string
	prefsPath    string
	page         string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "shortshider",
		Short:         "Hide YouTube Shorts in a browser tab",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "path to shortshider.yaml (defaults apply when empty)")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&a.addr, "addr", "", "daemon address (default "+config.DefaultAddr+")")
	pf.StringVar(&a.prefsBackend, "prefs-backend", "", "preference backend: sqlite or file")
	pf.StringVar(&a.prefsPath, "prefs", "", "preference store path")

	root.AddCommand(
		newRunCmd(a),
		newScanCmd(a),
		newToggleCmd(a),
		newStatsCmd(a),
		newRefreshCmd(a),
		newPagesCmd(a),
		newInitCmd(a),
	)
	return root
}

// logger writes JSON to stderr at the requested level.
func (a *app) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch a.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config when given and applies the flag overrides.
func (a *app) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(a.configPath); err != nil {
			return nil, err
		}
	}
	if a.addr != "" {
		cfg.HTTP.Addr = a.addr
	}
	if a.prefsBackend != "" && a.prefsBackend != cfg.Prefs.Backend {
		cfg.Prefs.Backend = a.prefsBackend
		if a.prefsPath == "" {
			cfg.Prefs.Path = config.DefaultPrefsPath(a.prefsBackend)
		}
	}
	if a.prefsPath != "" {
		cfg.Prefs.Path = a.prefsPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (prefstore.Store, error) {
	opts := []prefstore.Option{
		prefstore.WithPollInterval(cfg.Prefs.PollInterval),
		prefstore.WithLogger(logger),
	}
	switch cfg.Prefs.Backend {
	case config.BackendFile:
		return prefstore.OpenFile(cfg.Prefs.Path, opts...)
	default:
		return prefstore.OpenSQLite(cfg.Prefs.Path, opts...)
	}
}

func (a *app) client(cfg *config.Config) *channel.Client {
	return channel.NewClient("http://"+cfg.HTTP.Addr, 5*time.Second)
}

// printResponse writes resp and turns a failure into an error.
func printResponse(w io.Writer, resp channel.Response) error {
	fmt.Fprintln(w, formatResponse(resp))
	if !resp.Success {
		return fmt.Errorf("daemon: %s", resp.Error)
	}
	return nil
}

func formatResponse(resp channel.Response) string {
	if !resp.Success {
		return "error: " + resp.Error
	}
	if resp.Count == nil {
		return "ok"
	}
	state := "off"
	if resp.IsHiding != nil && *resp.IsHiding {
		state = "on"
	}
	last := "never"
	if resp.Timestamp != nil && *resp.Timestamp > 0 {
		last = time.UnixMilli(*resp.Timestamp).Format(time.RFC3339)
	}
	return fmt.Sprintf("hiding: %s\nhidden: %d\nlast update: %s", state, *resp.Count, last)
}
