package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/procurekit/procurekit/internal/entity"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <entity-type> <id>",
		Short: "Print an entity's full audit history",
		Long: `Print the complete chronological audit history of an entity from the
append-only log, independent of the bounded trail embedded in the entity.`,
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

			entries, err := rec.History(cmd.Context(), entity.Type(args[0]), args[1])
			if err != nil {
				return formatter.DomainError(err)
			}

			if rootOpts.Format == "json" {
				return formatter.Success(entries)
			}
			return formatter.Success(renderHistory(entries))
		},
	}
	return cmd
}

func renderHistory(entries []entity.AuditEntry) string {
	if len(entries) == 0 {
		return "no audit history"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%3d  %s  %-18s %s", e.Seq, e.Timestamp.UTC().Format(time.RFC3339), e.Action, e.Actor)
		if len(e.Details) > 0 {
			keys := make([]string, 0, len(e.Details))
			for k := range e.Details {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, k+"="+e.Details[k])
			}
			fmt.Fprintf(&b, "  (%s)", strings.Join(pairs, " "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
