package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/procurekit/procurekit/internal/approval"
)

// NewDecideCommand creates the decide command.
func NewDecideCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		partitionKey string
		actorID      string
		roleName     string
		comment      string
		batchFile    string
	)

	cmd := &cobra.Command{
		Use:   "decide [<chain-id> <step-id> <approved|rejected>]",
		Short: "Record approval decisions, single or in bulk",
		Long: `Record one approver decision against a chain step, or apply a batch of
decisions from a YAML file via --file. Batch items fail independently; the
command reports per-item outcomes and exits non-zero when any item failed.`,
		Args:          cobra.RangeArgs(0, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchFile != "" {
				if len(args) != 0 {
					return NewExitError(ExitCommandError, "--file and positional arguments are mutually exclusive")
				}
				return runDecideBatch(rootOpts, cmd, batchFile)
			}
			if len(args) != 3 {
				return NewExitError(ExitCommandError, "expected <chain-id> <step-id> <decision> or --file")
			}
			return runDecideSingle(rootOpts, cmd, args, partitionKey, actorID, roleName, comment)
		},
	}

	cmd.Flags().StringVar(&partitionKey, "partition", "", "chain entity partition key")
	cmd.Flags().StringVar(&actorID, "actor", "", "acting user id")
	cmd.Flags().StringVar(&roleName, "role", "approver", "acting user role")
	cmd.Flags().StringVar(&comment, "comment", "", "decision comment")
	cmd.Flags().StringVar(&batchFile, "file", "", "YAML file with a batch of decisions")
	return cmd
}

func runDecideSingle(opts *RootOptions, cmd *cobra.Command, args []string, partitionKey, actorID, roleName, comment string) error {
	formatter := newFormatter(opts, cmd)
	if partitionKey == "" {
		return NewExitError(ExitCommandError, "--partition is required")
	}
	actor, err := parseActor(actorID, roleName)
	if err != nil {
		return err
	}
	decision, err := approval.ParseDecision(args[2])
	if err != nil {
		return formatter.DomainError(err)
	}

	s, rec, err := openStore(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	coord := approval.NewCoordinator(s, rec, newLogger(opts, cmd))
	chain, err := coord.Decide(cmd.Context(), args[0], partitionKey, args[1], decision, actor, comment)
	if err != nil {
		return formatter.DomainError(err)
	}

	if opts.Format == "json" {
		return formatter.Success(chain)
	}
	return formatter.Success(fmt.Sprintf("step %s %s, chain %s", args[1], decision, chain.Status))
}

func runDecideBatch(opts *RootOptions, cmd *cobra.Command, path string) error {
	formatter := newFormatter(opts, cmd)

	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "read batch file", err)
	}
	var decisions []approval.BulkDecision
	if err := yaml.Unmarshal(raw, &decisions); err != nil {
		return WrapExitError(ExitCommandError, "parse batch file", err)
	}

	s, rec, err := openStore(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	coord := approval.NewCoordinator(s, rec, newLogger(opts, cmd))
	outcome, err := coord.ApplyBulk(cmd.Context(), decisions)
	if err != nil {
		return formatter.DomainError(err)
	}

	if opts.Format == "json" {
		if err := formatter.Success(outcome); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "processed %d: %d succeeded, %d failed\n",
			outcome.Processed, outcome.Succeeded, outcome.Failed)
		for _, r := range outcome.Results {
			if !r.Success {
				fmt.Fprintf(formatter.Writer, "  item %d (chain %s, step %s): %s\n",
					r.Index, r.ChainID, r.StepID, r.Error)
			}
		}
	}
	if outcome.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d decisions failed", outcome.Failed, outcome.Processed))
	}
	return nil
}
