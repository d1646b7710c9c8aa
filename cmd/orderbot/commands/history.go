package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	historySession string
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of sessions to list (0 for all)")
	historyCmd.Flags().StringVar(&historySession, "session", "", "Show the requests of one session")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit n] [--session id]",
	Short: "Lists recorded ordering sessions.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)

		if historySession != "" {
			id, err := uuid.Parse(historySession)
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			outcomes, err := st.Outcomes(cmd.Context(), id)
			if err != nil {
				return err
			}
			t.AppendHeader(table.Row{"#", "Item", "Qty", "Result"})
			for i, o := range outcomes {
				result := "added"
				if o.Error != "" {
					result = o.Error
				}
				t.AppendRow(table.Row{i + 1, o.Item, o.Quantity, result})
			}
			t.Render()
			return nil
		}

		sessions, err := st.Sessions(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println(T("history_empty"))
			return nil
		}
		t.AppendHeader(table.Row{"Session", "Storefront", "Started", "Duration", "Ordered", "Checkout", "Error"})
		for _, s := range sessions {
			t.AppendRow(table.Row{
				s.ID.String(),
				s.Storefront,
				s.StartedAt.Local().Format(time.DateTime),
				s.FinishedAt.Sub(s.StartedAt).Round(time.Second),
				fmt.Sprintf("%d/%d", s.Ordered, s.Requests),
				s.CheckoutState,
				s.Error,
			})
		}
		t.Render()
		return nil
	},
}
