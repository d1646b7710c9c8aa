package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"orderbot/internal/menu"
)

func init() {
	rootCmd.AddCommand(menuCmd)
}

var menuCmd = &cobra.Command{
	Use:   "menu <menu.json>",
	Short: "Prints a scraped menu as a table.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := menu.ReadFile(args[0])
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Category", "Item", "Price", "Modifier groups"})
		for _, c := range m.Categories {
			for _, it := range c.Items {
				t.AppendRow(table.Row{c.Name, it.Name, it.Price.String(), describeGroups(it.ModifierGroups)})
			}
			t.AppendSeparator()
		}
		t.AppendFooter(table.Row{fmt.Sprintf("%d categories", len(m.Categories)), fmt.Sprintf("%d items", m.ItemCount())})
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

func describeGroups(groups []menu.ModifierGroup) string {
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("%s %s: %d options", g.Name, cardinality(g), len(g.Options)))
	}
	return strings.Join(lines, "\n")
}

func cardinality(g menu.ModifierGroup) string {
	switch {
	case g.Unparsed:
		return "[?]"
	case g.MaxSelections == nil:
		return fmt.Sprintf("[%d+]", g.MinSelections)
	case g.MinSelections == *g.MaxSelections:
		return fmt.Sprintf("[%d]", g.MinSelections)
	default:
		return fmt.Sprintf("[%d-%d]", g.MinSelections, *g.MaxSelections)
	}
}
