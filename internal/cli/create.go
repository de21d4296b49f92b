package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/workflow"
)

// EntitySummary is the output shape for commands returning one entity.
type EntitySummary struct {
	ID           string `json:"id"`
	EntityType   string `json:"entityType"`
	PartitionKey string `json:"partitionKey"`
	Status       string `json:"status"`
	Version      int64  `json:"version"`
}

func summarize(e *entity.Entity) EntitySummary {
	return EntitySummary{
		ID:           e.ID,
		EntityType:   string(e.Type),
		PartitionKey: e.PartitionKey,
		Status:       string(e.Status),
		Version:      e.Version,
	}
}

func (s EntitySummary) String() string {
	return fmt.Sprintf("%s %s status=%s version=%d partition=%s",
		s.EntityType, s.ID, s.Status, s.Version, s.PartitionKey)
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		department string
		category   string
		parentID   string
		amount     int64
		body       string
		actorID    string
		roleName   string
	)

	cmd := &cobra.Command{
		Use:   "create <entity-type>",
		Short: "Create an entity in its initial workflow status",
		Long: `Create a procurement entity. The workflow table assigns the initial
status and the store assigns id, partition key and version 1. The document
body is inline JSON or @file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(actorID, roleName)
			if err != nil {
				return err
			}
			e := &entity.Entity{
				Type:        entity.Type(args[0]),
				ParentID:    parentID,
				AmountCents: amount,
				Metadata:    entity.Metadata{Department: department, Category: category},
			}
			if e.Body, err = readBody(body); err != nil {
				return err
			}
			return runCreate(rootOpts, cmd, e, actor)
		},
	}

	cmd.Flags().StringVar(&department, "department", "", "owning department")
	cmd.Flags().StringVar(&category, "category", "", "procurement category")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent entity id")
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in cents")
	cmd.Flags().StringVar(&body, "body", "{}", "document body as JSON, or @file")
	cmd.Flags().StringVar(&actorID, "actor", "", "acting user id")
	cmd.Flags().StringVar(&roleName, "role", "requester", "acting user role")
	return cmd
}

func runCreate(opts *RootOptions, cmd *cobra.Command, e *entity.Entity, actor entity.Actor) error {
	formatter := newFormatter(opts, cmd)

	s, rec, err := openStore(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	registry, err := workflow.CompileDefault()
	if err != nil {
		return WrapExitError(ExitCommandError, "compile workflow definitions", err)
	}
	machine := workflow.NewMachine(s, rec, registry, newLogger(opts, cmd))

	created, err := machine.Create(cmd.Context(), e, actor)
	if err != nil {
		return formatter.DomainError(err)
	}

	formatter.VerboseLog("created %s in partition %s", created.ID, created.PartitionKey)
	return formatter.Success(summarize(created))
}

// readBody resolves an inline JSON body or an @file reference and checks
// that it parses.
func readBody(arg string) ([]byte, error) {
	raw := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		if raw, err = os.ReadFile(arg[1:]); err != nil {
			return nil, WrapExitError(ExitCommandError, "read body file", err)
		}
	}
	if !json.Valid(raw) {
		return nil, NewExitError(ExitCommandError, "body is not valid JSON")
	}
	return raw, nil
}
