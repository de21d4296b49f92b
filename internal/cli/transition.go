package cli

import (
	"github.com/spf13/cobra"

	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/workflow"
)

// NewTransitionCommand creates the transition command.
func NewTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		partitionKey string
		actorID      string
		roleName     string
		notes        string
		override     bool
		reason       string
	)

	cmd := &cobra.Command{
		Use:   "transition <id> <target-status>",
		Short: "Move an entity to a new workflow status",
		Long: `Apply a status transition from the entity type's transition table. The
edge's minimum role is enforced against --role. --override (admin only,
requires --reason) bypasses the table, including out of terminal statuses,
and is itself audited.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(actorID, roleName)
			if err != nil {
				return err
			}
			if override && reason == "" {
				return NewExitError(ExitCommandError, "--override requires --reason")
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

			id, target := args[0], entity.Status(args[1])
			var updated *entity.Entity
			if override {
				updated, err = machine.Override(cmd.Context(), id, partitionKey, target, actor, reason)
			} else {
				updated, err = machine.Transition(cmd.Context(), id, partitionKey, target, actor, notes)
			}
			if err != nil {
				return formatter.DomainError(err)
			}
			return formatter.Success(summarize(updated))
		},
	}

	cmd.Flags().StringVar(&partitionKey, "partition", "", "entity partition key")
	cmd.Flags().StringVar(&actorID, "actor", "", "acting user id")
	cmd.Flags().StringVar(&roleName, "role", "requester", "acting user role")
	cmd.Flags().StringVar(&notes, "notes", "", "lifecycle stage notes")
	cmd.Flags().BoolVar(&override, "override", false, "administrative override outside the transition table")
	cmd.Flags().StringVar(&reason, "reason", "", "override justification, recorded in the audit log")
	cmd.MarkFlagRequired("partition")
	return cmd
}
