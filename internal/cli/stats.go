package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/procurekit/procurekit/internal/analytics"
	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		typeNames  []string
		statuses   []string
		department string
		category   string
		from       string
		to         string
	)

	cmd := &cobra.Command{
		Use:   "stats <department|category|status|month>",
		Short: "Roll up entity counts and amounts by a dimension",
		Long: `Group entities by a dimension and report count, amount sum and average
per bucket. Rows without a value for the dimension land in the unknown
bucket. Filters narrow the input before aggregation; --from/--to take
RFC 3339 timestamps or YYYY-MM-DD dates, the range is half-open.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			dim, err := analytics.ParseDimension(args[0])
			if err != nil {
				return formatter.DomainError(err)
			}
			filter, err := buildFilter(typeNames, statuses, department, category, from, to)
			if err != nil {
				return err
			}

			s, _, err := openStore(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			agg := analytics.NewAggregator(s, newLogger(rootOpts, cmd))
			buckets, err := agg.Aggregate(cmd.Context(), analytics.Request{Dimension: dim, Filter: filter})
			if err != nil {
				return formatter.DomainError(err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(buckets)
			}
			return formatter.Success(renderBuckets(dim, buckets))
		},
	}

	cmd.Flags().StringSliceVar(&typeNames, "type", nil, "entity types to include")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "statuses to include")
	cmd.Flags().StringVar(&department, "department", "", "filter by department")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&from, "from", "", "include entities created at or after this time")
	cmd.Flags().StringVar(&to, "to", "", "include entities created before this time")
	return cmd
}

func buildFilter(typeNames, statuses []string, department, category, from, to string) (store.Filter, error) {
	var f store.Filter
	for _, name := range typeNames {
		f.Types = append(f.Types, entity.Type(name))
	}
	for _, s := range statuses {
		f.Statuses = append(f.Statuses, entity.Status(s))
	}
	f.Department = department
	f.Category = category

	var err error
	if f.CreatedFrom, err = parseTimeFlag(from); err != nil {
		return f, WrapExitError(ExitCommandError, "invalid --from", err)
	}
	if f.CreatedTo, err = parseTimeFlag(to); err != nil {
		return f, WrapExitError(ExitCommandError, "invalid --to", err)
	}
	return f, nil
}

func parseTimeFlag(arg string) (time.Time, error) {
	if arg == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, arg); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", arg)
}

func renderBuckets(dim analytics.Dimension, buckets []analytics.Bucket) string {
	if len(buckets) == 0 {
		return "no matching entities"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %8s %14s %14s\n", strings.ToUpper(string(dim)), "COUNT", "SUM", "AVG")
	for _, bucket := range buckets {
		fmt.Fprintf(&b, "%-20s %8d %14s %14.2f\n",
			bucket.Key, bucket.Count, formatCents(bucket.SumCents), bucket.AverageCents/100)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
