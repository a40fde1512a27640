package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/shortshider/internal/config"
	"github.com/hazyhaar/shortshider/internal/prefstore"
)

func newToggleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "toggle <on|off>",
		Short:     "Turn hiding on or off",
		Long:      "Toggle writes the preference, then tells a running daemon. The preference is\nwhat counts; an unreachable daemon picks it up when it starts.",
		ValidArgs: []string{"on", "off"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			hidden := args[0] == "on"
			logger := a.logger(cmd.ErrOrStderr())
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Set(cmd.Context(), prefstore.KeyShortsHidden, hidden); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "shorts hidden: %s\n", args[0])

			resp, err := a.client(cfg).Toggle(cmd.Context(), a.page, hidden)
			switch {
			case err != nil:
				fmt.Fprintf(cmd.ErrOrStderr(), "daemon not notified: %v\n", err)
			case !resp.Success:
				fmt.Fprintf(cmd.ErrOrStderr(), "daemon refused: %s\n", resp.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&a.page, "page", "", "page id (default page when empty)")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show what the daemon has hidden",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			resp, err := a.client(cfg).Stats(cmd.Context(), a.page)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&a.page, "page", "", "page id (default page when empty)")
	return cmd
}

func newRefreshCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reveal everything and classify the page again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			resp, err := a.client(cfg).Refresh(cmd.Context(), a.page)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&a.page, "page", "", "page id (default page when empty)")
	return cmd
}

func newPagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pages",
		Short: "List the pages the daemon guards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			pages, err := a.client(cfg).Pages(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pages)
		},
	}
}

func newInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config and seed the preference",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "shortshider.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("init: %s exists (use --force)", path)
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Pages) == 0 {
				cfg.Pages = []config.PageConfig{{ID: "home", URL: "https://www.youtube.com/"}}
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("init: %w", err)
				}
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("init: %w", err)
			}

			store, err := openStore(cfg, a.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()
			if _, err := prefstore.EnsureDefaults(cmd.Context(), store); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\npreferences in %s\n", path, cfg.Prefs.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
