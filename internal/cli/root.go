// Package cli implements the procure command line interface over the
// procurement store: entity lifecycle, approvals, evaluation ranking,
// audit inspection and analytics rollups.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/procurekit/procurekit/internal/audit"
	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	DBPath  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the procure CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "procure",
		Short: "procure - procurement workflow toolkit",
		Long:  "Manage procurement entities: RFQs, submissions, approvals, awards and their audit history.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "procure.db", "path to the procurement database")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewTransitionCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewDecideCommand(opts))
	cmd.AddCommand(NewRankCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newFormatter builds the per-command output formatter.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger builds the ambient logger. Verbose drops the level to debug;
// logs always go to stderr so structured output stays clean.
func newLogger(opts *RootOptions, cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	w := cmd.ErrOrStderr()
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore opens the database named by --db, shared by every command
// that touches entities.
func openStore(opts *RootOptions, cmd *cobra.Command) (*store.Store, *audit.Recorder, error) {
	logger := newLogger(opts, cmd)
	s, err := store.Open(opts.DBPath, store.WithLogger(logger))
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, fmt.Sprintf("open database %s", opts.DBPath), err)
	}
	return s, audit.NewRecorder(s, logger), nil
}

// parseActor resolves the --actor/--role pair supplied by the caller's
// identity layer.
func parseActor(actorID, roleName string) (entity.Actor, error) {
	if actorID == "" {
		return entity.Actor{}, NewExitError(ExitCommandError, "--actor is required")
	}
	role, err := entity.ParseRole(roleName)
	if err != nil {
		return entity.Actor{}, WrapExitError(ExitCommandError, "invalid --role", err)
	}
	return entity.Actor{ID: actorID, Role: role}, nil
}
