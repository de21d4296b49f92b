package cli

import (
	"github.com/spf13/cobra"

	"github.com/procurekit/procurekit/internal/workflow"
)

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		partitionKey string
		actorID      string
		roleName     string
		reason       string
	)

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete an entity",
		Long: `Transition an entity to its type's deletion status over the normal
transition table. The record and its audit history remain readable;
terminal entities refuse.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(actorID, roleName)
			if err != nil {
				return err
			}

			formatter := newFormatter(rootOpts, cmd)
			s, rec, err := openStore(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			registry, err := workflow.CompileDefault()
			if err != nil {
				return WrapExitError(ExitCommandError, "compile workflow definitions", err)
			}
			machine := workflow.NewMachine(s, rec, registry, newLogger(rootOpts, cmd))

			deleted, err := machine.Delete(cmd.Context(), args[0], partitionKey, actor, reason)
			if err != nil {
				return formatter.DomainError(err)
			}
			return formatter.Success(summarize(deleted))
		},
	}

	cmd.Flags().StringVar(&partitionKey, "partition", "", "entity partition key")
	cmd.Flags().StringVar(&actorID, "actor", "", "acting user id")
	cmd.Flags().StringVar(&roleName, "role", "requester", "acting user role")
	cmd.Flags().StringVar(&reason, "reason", "", "deletion notes, recorded in the lifecycle stage")
	cmd.MarkFlagRequired("partition")
	return cmd
}
