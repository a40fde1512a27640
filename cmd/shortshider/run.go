package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/shortshider"
	"github.com/hazyhaar/shortshider/internal/channel"
	"github.com/hazyhaar/shortshider/internal/config"
	"github.com/hazyhaar/shortshider/internal/prefstore"
)

var version = "dev"

func newRunCmd(a *app) *cobra.Command {
	var (
		urls    []string
		withMCP bool
		remote  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the configured pages and keep Shorts hidden",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := a.logger(cmd.ErrOrStderr())
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			for _, u := range urls {
				cfg.Pages = append(cfg.Pages, config.PageConfig{ID: fmt.Sprintf("page%d", len(cfg.Pages)+1), URL: u})
			}
			if remote != "" {
				cfg.Browser.Remote = remote
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			if seeded, err := prefstore.EnsureDefaults(cmd.Context(), store); err != nil {
				logger.Error("shortshider: seed preference", "error", err)
			} else if seeded {
				logger.Info("shortshider: preference seeded", "shortsHidden", prefstore.DefaultShortsHidden)
			}

			d, err := shortshider.NewDaemon(cfg, store, logger)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), logger, cfg, d, withMCP)
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "page to guard, in addition to the config (repeatable)")
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "serve the MCP tools on stdio")
	cmd.Flags().StringVar(&remote, "remote", "", "DevTools WebSocket URL of a running Chrome")
	return cmd
}

func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config, d *shortshider.Daemon, withMCP bool) error {
	router := channel.NewRouter(channel.WithLogger(logger))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           channel.NewHTTPHandler(router, d.Registry(), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("shortshider: http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("shortshider: http", "error", err)
		}
	}()

	if withMCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "shortshider", Version: version}, nil)
		channel.RegisterMCP(mcpSrv, router, d.Registry(), logger)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("shortshider: mcp", "error", err)
			}
		}()
	}

	err := d.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("shortshider: http shutdown", "error", serr)
	}
	return err
}
