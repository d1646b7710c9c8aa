package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"orderbot/internal/batch"
	"orderbot/internal/checkout"
	"orderbot/internal/schedule"
	"orderbot/internal/scraper"
	"orderbot/internal/settle"
)

var (
	orderStartAt  string
	orderDryRun   bool
	orderParallel int
)

func init() {
	orderCmd.Flags().StringVar(&orderStartAt, "start-at", "", "Wait until this UTC time before ordering (e.g. 2025-01-15 11:30)")
	orderCmd.Flags().BoolVar(&orderDryRun, "dry-run", false, "Fill the checkout page but stop before submitting payment")
	orderCmd.Flags().IntVar(&orderParallel, "parallel", 0, "Maximum sessions at once (default: one per order file)")
	rootCmd.AddCommand(orderCmd)
}

var orderCmd = &cobra.Command{
	Use:   "order <storefront> <orders.json|dir>",
	Short: "Places one order per order file, running the sessions concurrently.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := args[0], args[1]

		adapter, err := cfg.Adapter(name)
		if err != nil {
			return err
		}
		sessOpts, err := cfg.SessionOptions()
		if err != nil {
			return err
		}
		sessOpts.DryRun = orderDryRun
		sessOpts.Scrape = scraper.Options{Workers: cfg.Scrape.Workers, SkipDetails: cfg.Scrape.SkipDetails}

		var startAt time.Time
		if orderStartAt != "" {
			if startAt, err = schedule.ParseStartTime(orderStartAt); err != nil {
				return err
			}
		}

		jobs, err := batch.LoadJobs(path)
		if err != nil {
			return err
		}
		fmt.Println(T("order_loading", len(jobs)))

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var clock settle.Clock = settle.RealClock
		if !startAt.IsZero() {
			ts := schedule.NewTimeSync()
			if err := ts.Sync(cmd.Context()); err != nil {
				fmt.Println(T("order_time_sync_failed", err))
			} else {
				fmt.Println(T("order_time_synced", ts.Offset().Round(time.Millisecond)))
				clock = ts
			}
			fmt.Println(T("order_wait_start", startAt.Format("2006-01-02 15:04:05"), startAt.Sub(clock.Now()).Round(time.Second)))
		}

		b, ctx, cancel, err := launchBrowser(cmd.Context())
		if err != nil {
			return err
		}
		defer cancel()
		defer b.Close()
		sessOpts.Scrape.NewPage = b.NewDriver

		results, err := batch.Run(ctx, jobs, batch.Options{
			Adapter:  adapter,
			NewPage:  b.NewIsolatedDriver,
			Session:  sessOpts,
			Parallel: orderParallel,
			StartAt:  startAt,
			Clock:    clock,
			Waiting: func(remaining time.Duration) {
				fmt.Println(T("order_waiting_update", remaining))
			},
			Started: func(job batch.Job) {
				fmt.Println(T("order_session_start", job.Name, len(job.Requests)))
			},
			Finished: func(res batch.Result) {
				printResult(res)
				if res.Report != nil {
					if err := st.RecordSession(context.WithoutCancel(ctx), res.Report); err != nil {
						fmt.Println(T("order_failed", res.Job.Name, err))
					}
				}
			},
		})
		if err != nil {
			return err
		}

		ok := batch.Succeeded(results)
		fmt.Println(T("order_summary", ok, len(results)))
		if ok < len(results) {
			return fmt.Errorf("%d session(s) failed", len(results)-ok)
		}
		return nil
	},
}

func printResult(res batch.Result) {
	name := res.Job.Name
	if res.Report != nil {
		for _, o := range res.Report.Outcomes {
			if o.Err == nil {
				fmt.Println(T("order_item_added", name, o.Request.Quantity, o.Request.ItemName))
			} else {
				fmt.Println(T("order_item_failed", name, o.Request.ItemName, o.Err))
			}
		}
	}
	switch {
	case res.Err != nil:
		fmt.Println(T("order_failed", name, res.Err))
	case res.Report.Checkout != nil && res.Report.Checkout.Final() == checkout.PaymentFilled:
		fmt.Println(T("order_dry_run_stop", name))
	case res.Report.Checkout != nil:
		fmt.Println(T("order_confirmed", name, res.Report.Checkout.URL))
	}
}
