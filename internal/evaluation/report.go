package evaluation

import (
	"fmt"
	"strings"
)

// Report renders a consolidation as a plain-text ranking table.
func Report(c *Consolidation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Evaluation ranking (%s)\n", strings.ToUpper(string(c.Method)))
	if c.WeightsInconsistent {
		b.WriteString("WARNING: technical and financial weights do not sum to 1\n")
	}
	if c.LowestPriceCents > 0 {
		fmt.Fprintf(&b, "Lowest quote: %s\n", formatCents(c.LowestPriceCents))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%-4s %-24s %-14s %9s %9s %9s\n",
		"RANK", "SUBMISSION", "PRICE", "TECH", "FIN", "OVERALL")
	for _, r := range c.Results {
		rank := "-"
		if r.Rank > 0 {
			rank = fmt.Sprintf("%d", r.Rank)
		}
		name := r.SubmissionID
		if r.Vendor != "" {
			name = r.Vendor
		}
		fmt.Fprintf(&b, "%-4s %-24s %-14s %9.2f %9.2f %9.2f\n",
			rank, name, formatCents(r.PriceCents), r.Technical, r.Financial, r.Weighted)
		if r.ReliabilityLow {
			fmt.Fprintf(&b, "     %-24s low reliability: completeness %.2f\n", "", r.Completeness)
		}
		if !r.BudgetEligible {
			fmt.Fprintf(&b, "     %-24s excluded: quote exceeds fixed budget\n", "")
		}
	}

	if c.Recommended != "" {
		fmt.Fprintf(&b, "\nRecommended: %s\n", c.Recommended)
	}
	return b.String()
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
