package cli

import (
	"github.com/spf13/cobra"

	"github.com/procurekit/procurekit/internal/evaluation"
)

// NewRankCommand creates the rank command.
func NewRankCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		partitionKey string
		actorID      string
		roleName     string
	)

	cmd := &cobra.Command{
		Use:   "rank <rfq-id>",
		Short: "Consolidate an RFQ's evaluations into a ranking",
		Long: `Run evaluation consolidation for an RFQ: blend evaluator score sheets
and quoted prices under the RFQ's configured method, persist the ranking in
the RFQ document, and print the ranked result.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			actor, err := parseActor(actorID, roleName)
			if err != nil {
				return err
			}

			s, rec, err := openStore(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			engine := evaluation.NewEngine(s, rec, newLogger(rootOpts, cmd))
			out, err := engine.Run(cmd.Context(), args[0], partitionKey, actor)
			if err != nil {
				return formatter.DomainError(err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(out)
			}
			return formatter.Success(evaluation.Report(out))
		},
	}

	cmd.Flags().StringVar(&partitionKey, "partition", "", "rfq partition key")
	cmd.Flags().StringVar(&actorID, "actor", "", "acting user id")
	cmd.Flags().StringVar(&roleName, "role", "evaluator", "acting user role")
	cmd.MarkFlagRequired("partition")
	return cmd
}
