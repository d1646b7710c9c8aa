package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"orderbot/internal/driver/htmldriver"
	"orderbot/internal/menu"
	"orderbot/internal/scraper"
	"orderbot/internal/session"
)

var (
	scrapeOut  string
	scrapeHTML string
	scrapeFast bool
)

func init() {
	scrapeCmd.Flags().StringVar(&scrapeOut, "out", "", "File to write the menu JSON to (default <storefront>-menu.json)")
	scrapeCmd.Flags().StringVar(&scrapeHTML, "html", "", "Read a saved menu page instead of opening the live storefront")
	scrapeCmd.Flags().BoolVar(&scrapeFast, "skip-details", false, "Only read the menu page, without opening item detail views")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <storefront> [--out menu.json] [--html saved.html]",
	Short: "Scrapes a storefront's menu into a JSON file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		adapter, err := cfg.Adapter(name)
		if err != nil {
			return err
		}
		opts := scraper.Options{
			Workers:     cfg.Scrape.Workers,
			SkipDetails: cfg.Scrape.SkipDetails || scrapeFast,
		}

		var res *scraper.Result
		if scrapeHTML != "" {
			// A saved page has no detail routes to follow.
			fmt.Println(T("scrape_offline", scrapeHTML))
			body, err := os.ReadFile(scrapeHTML)
			if err != nil {
				return err
			}
			page, err := htmldriver.FromHTML(adapter.RootURL(), string(body))
			if err != nil {
				return err
			}
			opts.SkipDetails = true
			res, err = scraper.New(adapter, opts).Scrape(cmd.Context(), page)
			if err != nil {
				return err
			}
		} else {
			fmt.Println(T("scrape_starting", adapter.RootURL()))
			b, ctx, cancel, err := launchBrowser(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer b.Close()

			page, err := b.NewPage(ctx)
			if err != nil {
				return err
			}
			opts.NewPage = b.NewDriver
			// Scraping never orders, so the failure policy is irrelevant.
			s, err := session.New(adapter, page, session.Options{OnItemFailure: session.Skip, Scrape: opts})
			if err != nil {
				return err
			}
			res, err = s.Scrape(ctx)
			if err != nil {
				return err
			}
		}

		return saveScrape(cmd, name, res)
	},
}

func saveScrape(cmd *cobra.Command, name string, res *scraper.Result) error {
	m := res.Menu
	m.Storefront = name
	fmt.Println(T("scrape_done", len(m.Categories), m.ItemCount()))
	for _, issue := range res.Issues {
		fmt.Println(T("scrape_issue", issue.String()))
	}

	out := scrapeOut
	if out == "" {
		out = name + "-menu.json"
	}
	if err := m.WriteFile(out); err != nil {
		return err
	}
	fmt.Println(T("scrape_saved", out))

	return recordMenu(cmd, name, m)
}

func recordMenu(cmd *cobra.Command, name string, m *menu.Menu) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	_, err = st.SaveMenu(cmd.Context(), name, m, time.Now())
	return err
}
