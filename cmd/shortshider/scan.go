package main

import (
	"fmt"
	"io"
	"os"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/hazyhaar/shortshider/classify"
	"github.com/hazyhaar/shortshider/dom"
	"github.com/hazyhaar/shortshider/dom/htmlpage"
	"github.com/hazyhaar/shortshider/internal/engine"
)

func newScanCmd(a *app) *cobra.Command {
	var render bool
	cmd := &cobra.Command{
		Use:   "scan <file.html|->",
		Short: "Classify a saved page and report the Shorts elements",
		Long: `Scan runs the classifier and the hide transform over a saved HTML page,
without a browser. It lists every element that would be hidden with the rule
that matched it, or prints the transformed page with --render.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			cls, err := classify.New(cfg.Rules)
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("scan: %w", err)
				}
				defer f.Close()
				r = f
			}
			page, err := htmlpage.Parse(r)
			if err != nil {
				return err
			}

			eng := engine.New(page, cls,
				engine.WithLogger(a.logger(cmd.ErrOrStderr())),
				engine.WithMarker(cfg.Engine.Marker),
				engine.WithRootClass(cfg.Engine.RootClass),
			)
			eng.Initialize(cmd.Context(), nil)

			out := cmd.OutOrStdout()
			if render {
				return page.Render(out)
			}
			for _, n := range eng.Hidden() {
				rule, _ := cls.MatchedRule(n)
				fmt.Fprintf(out, "%-18s %s\n", rule, describe(n))
			}
			fmt.Fprintf(out, "%d hidden\n", eng.Stats().Count)
			return nil
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "print the page with the hide transform applied")
	return cmd
}

// describe renders a short selector-like label for n.
func describe(n *html.Node) string {
	label := n.Data
	if id, ok := dom.Attr(n, "id"); ok && id != "" {
		label += "#" + id
	}
	if href := goquery.NewDocumentFromNode(n).Find("a[href]").First().AttrOr("href", ""); href != "" {
		label += " " + href
	}
	return label
}
