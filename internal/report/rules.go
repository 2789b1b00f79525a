package report

import (
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/bamsammich/vigil/internal/rules"
)

// RuleTable prints the loaded rules, one row each, in load order.
func RuleTable(w io.Writer, rs []*rules.Rule) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Origin", "Kind", "Pattern", "Types", "Attributes"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range rs {
		attrs := "-"
		if !r.Kind().Negative() {
			attrs = r.Attrs().String()
		}
		table.Append([]string{r.Origin().String(), r.Kind().String(), r.Pattern(), r.Restriction().String(), attrs})
	}
	table.Render()
}
