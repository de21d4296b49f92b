package approval

import (
	_ "embed"
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/google/uuid"

	"github.com/procurekit/procurekit/internal/entity"
)

//go:embed templates.cue
var defaultTemplates []byte

// TemplateStep names a role slot in a chain template.
type TemplateStep struct {
	Role      entity.Role
	Mandatory bool
	Priority  int
}

// Template describes how to build a chain for a class of subjects.
// Amount bands are half-open: min inclusive, max exclusive; zero means
// unbounded.
type Template struct {
	Name           string
	AppliesTo      entity.Type
	MinAmountCents int64
	MaxAmountCents int64
	Ordered        bool
	Steps          []TemplateStep
}

// Matches reports whether the template applies to a subject.
func (t Template) Matches(subjectType entity.Type, amountCents int64) bool {
	if t.AppliesTo != subjectType {
		return false
	}
	if t.MinAmountCents > 0 && amountCents < t.MinAmountCents {
		return false
	}
	if t.MaxAmountCents > 0 && amountCents >= t.MaxAmountCents {
		return false
	}
	return true
}

// CompileTemplates parses CUE chain templates.
func CompileTemplates(src []byte) ([]Template, error) {
	ctx := cuecontext.New()
	root := ctx.CompileBytes(src)
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile templates: %s", cueerrors.Details(err, nil))
	}

	listVal := root.LookupPath(cue.ParsePath("templates"))
	if !listVal.Exists() {
		return nil, fmt.Errorf("compile templates: templates list is required")
	}
	list, err := listVal.List()
	if err != nil {
		return nil, fmt.Errorf("compile templates: %s", cueerrors.Details(err, nil))
	}

	var out []Template
	for list.Next() {
		tmpl, err := compileTemplate(list.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, tmpl)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("compile templates: at least one template is required")
	}
	return out, nil
}

// DefaultTemplates compiles the embedded template set.
func DefaultTemplates() ([]Template, error) {
	return CompileTemplates(defaultTemplates)
}

func compileTemplate(v cue.Value) (Template, error) {
	var tmpl Template

	name, err := v.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return tmpl, fmt.Errorf("compile template: name: %s", cueerrors.Details(err, nil))
	}
	tmpl.Name = name

	appliesTo, err := v.LookupPath(cue.ParsePath("appliesTo")).String()
	if err != nil {
		return tmpl, fmt.Errorf("compile template %s: appliesTo: %s", name, cueerrors.Details(err, nil))
	}
	tmpl.AppliesTo = entity.Type(appliesTo)
	if !tmpl.AppliesTo.Valid() {
		return tmpl, fmt.Errorf("compile template %s: unknown entity type %q", name, appliesTo)
	}

	if minVal := v.LookupPath(cue.ParsePath("minAmountCents")); minVal.Exists() {
		if tmpl.MinAmountCents, err = minVal.Int64(); err != nil {
			return tmpl, fmt.Errorf("compile template %s: minAmountCents: %s", name, cueerrors.Details(err, nil))
		}
	}
	if maxVal := v.LookupPath(cue.ParsePath("maxAmountCents")); maxVal.Exists() {
		if tmpl.MaxAmountCents, err = maxVal.Int64(); err != nil {
			return tmpl, fmt.Errorf("compile template %s: maxAmountCents: %s", name, cueerrors.Details(err, nil))
		}
	}
	if tmpl.Ordered, err = v.LookupPath(cue.ParsePath("ordered")).Bool(); err != nil {
		return tmpl, fmt.Errorf("compile template %s: ordered: %s", name, cueerrors.Details(err, nil))
	}

	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	list, err := stepsVal.List()
	if err != nil {
		return tmpl, fmt.Errorf("compile template %s: steps: %s", name, cueerrors.Details(err, nil))
	}
	for list.Next() {
		sv := list.Value()
		roleName, err := sv.LookupPath(cue.ParsePath("role")).String()
		if err != nil {
			return tmpl, fmt.Errorf("compile template %s: step role: %s", name, cueerrors.Details(err, nil))
		}
		role, err := entity.ParseRole(roleName)
		if err != nil {
			return tmpl, fmt.Errorf("compile template %s: %w", name, err)
		}
		mandatory, err := sv.LookupPath(cue.ParsePath("mandatory")).Bool()
		if err != nil {
			return tmpl, fmt.Errorf("compile template %s: step mandatory: %s", name, cueerrors.Details(err, nil))
		}
		priority, err := sv.LookupPath(cue.ParsePath("priority")).Int64()
		if err != nil {
			return tmpl, fmt.Errorf("compile template %s: step priority: %s", name, cueerrors.Details(err, nil))
		}
		tmpl.Steps = append(tmpl.Steps, TemplateStep{
			Role:      role,
			Mandatory: mandatory,
			Priority:  int(priority),
		})
	}
	if len(tmpl.Steps) == 0 {
		return tmpl, fmt.Errorf("compile template %s: at least one step is required", name)
	}
	mandatory := false
	for _, s := range tmpl.Steps {
		if s.Mandatory {
			mandatory = true
			break
		}
	}
	if !mandatory {
		return tmpl, fmt.Errorf("compile template %s: at least one mandatory step is required", name)
	}

	return tmpl, nil
}

// SelectTemplate picks the first template matching the subject. Declaration
// order is the priority order.
func SelectTemplate(templates []Template, subjectType entity.Type, amountCents int64) (Template, error) {
	for _, t := range templates {
		if t.Matches(subjectType, amountCents) {
			return t, nil
		}
	}
	return Template{}, entity.NewValidationError("template",
		fmt.Sprintf("no approval template for %s at amount %d", subjectType, amountCents))
}

// BuildChain instantiates a chain from a template. Approvers are assigned
// per step in template order; the assignment list length must match.
func BuildChain(tmpl Template, subjectID string, subjectType entity.Type, approvers []string, now time.Time) (*Chain, error) {
	if len(approvers) != len(tmpl.Steps) {
		return nil, entity.NewValidationError("approvers",
			fmt.Sprintf("template %s has %d steps, got %d approvers", tmpl.Name, len(tmpl.Steps), len(approvers)))
	}

	chain := &Chain{
		SubjectID:   subjectID,
		SubjectType: subjectType,
		Ordered:     tmpl.Ordered,
		Status:      ChainPending,
		Steps:       make([]Step, len(tmpl.Steps)),
	}
	assigned := now.UTC()
	for i, ts := range tmpl.Steps {
		chain.Steps[i] = Step{
			ID:         uuid.NewString(),
			Approver:   approvers[i],
			MinRole:    ts.Role,
			Mandatory:  ts.Mandatory,
			Priority:   ts.Priority,
			Status:     StepPending,
			AssignedAt: assigned,
		}
	}
	return chain, nil
}
