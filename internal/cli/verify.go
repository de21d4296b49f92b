package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/procurekit/procurekit/internal/entity"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <entity-type> <id>",
		Short: "Check the integrity of an entity's audit history",
		Long: `Recompute the fingerprint of every audit record for the entity and
check the sequence is gapless. Any mismatch is reported as tampering and
the command exits non-zero.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			s, rec, err := openStore(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			t, id := entity.Type(args[0]), args[1]
			if err := rec.Verify(cmd.Context(), t, id); err != nil {
				return formatter.DomainError(err)
			}
			return formatter.Success(fmt.Sprintf("audit history of %s %s verified", t, id))
		},
	}
	return cmd
}
