package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/procurekit/procurekit/internal/approval"
	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/workflow"
)

// ValidationSummary reports what the definition compile produced.
type ValidationSummary struct {
	Valid     bool             `json:"valid"`
	Workflows []WorkflowReport `json:"workflows,omitempty"`
	Templates []string         `json:"templates,omitempty"`
	Errors    []string         `json:"errors,omitempty"`
}

// WorkflowReport summarizes one compiled transition table.
type WorkflowReport struct {
	EntityType string `json:"entityType"`
	Initial    string `json:"initial"`
	Statuses   int    `json:"statuses"`
	Edges      int    `json:"edges"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var definitionsPath string
	var templatesPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile and check workflow definitions and approval templates",
		Long: `Compile the CUE workflow definitions and approval chain templates and
report what they declare. With no flags the embedded defaults are checked;
--definitions and --templates validate external files instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, definitionsPath, templatesPath)
		},
	}

	cmd.Flags().StringVar(&definitionsPath, "definitions", "", "path to a workflow definitions CUE file")
	cmd.Flags().StringVar(&templatesPath, "templates", "", "path to an approval templates CUE file")
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command, definitionsPath, templatesPath string) error {
	formatter := newFormatter(opts, cmd)
	summary := ValidationSummary{Valid: true}

	registry, err := compileRegistry(definitionsPath)
	if err != nil {
		summary.Valid = false
		summary.Errors = append(summary.Errors, err.Error())
	} else {
		for _, t := range sortedTypes(registry) {
			def := registry[t]
			summary.Workflows = append(summary.Workflows, WorkflowReport{
				EntityType: string(t),
				Initial:    string(def.Initial),
				Statuses:   len(def.Statuses()),
				Edges:      len(def.Edges()),
			})
		}
	}

	templates, err := compileTemplates(templatesPath)
	if err != nil {
		summary.Valid = false
		summary.Errors = append(summary.Errors, err.Error())
	} else {
		for _, tmpl := range templates {
			summary.Templates = append(summary.Templates, tmpl.Name)
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		renderValidation(formatter, summary)
	}
	if !summary.Valid {
		return NewExitError(ExitFailure, "definitions invalid")
	}
	return nil
}

func compileRegistry(path string) (workflow.Registry, error) {
	if path == "" {
		return workflow.CompileDefault()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "read definitions", err)
	}
	return workflow.Compile(src)
}

func compileTemplates(path string) ([]approval.Template, error) {
	if path == "" {
		return approval.DefaultTemplates()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "read templates", err)
	}
	return approval.CompileTemplates(src)
}

func sortedTypes(r workflow.Registry) []entity.Type {
	types := make([]entity.Type, 0, len(r))
	for t := range r {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func renderValidation(f *OutputFormatter, s ValidationSummary) {
	var b strings.Builder
	if s.Valid {
		b.WriteString("definitions valid\n")
	}
	for _, w := range s.Workflows {
		fmt.Fprintf(&b, "workflow %-13s initial=%-10s statuses=%d edges=%d\n",
			w.EntityType, w.Initial, w.Statuses, w.Edges)
	}
	if len(s.Templates) > 0 {
		fmt.Fprintf(&b, "approval templates: %s\n", strings.Join(s.Templates, ", "))
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "error: %s\n", e)
	}
	fmt.Fprint(f.Writer, b.String())
}
