// Package approval resolves multi-step approval chains into an overall
// decision. A chain is a set of steps, ordered or parallel; mandatory steps
// gate resolution, optional steps never block. One mandatory rejection
// short-circuits the whole chain without touching the remaining steps.
package approval

import (
	"fmt"
	"sort"
	"time"

	"github.com/procurekit/procurekit/internal/entity"
)

// Decision is an approver's verdict on one step.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ParseDecision validates a decision string.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApproved, DecisionRejected:
		return Decision(s), nil
	default:
		return "", entity.NewValidationError("decision", fmt.Sprintf("unknown decision %q", s))
	}
}

// StepStatus is the state of one chain step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// ChainStatus is the overall resolution of a chain.
type ChainStatus string

const (
	ChainPending  ChainStatus = "pending"
	ChainApproved ChainStatus = "approved"
	ChainRejected ChainStatus = "rejected"
)

// Step is one approval in a chain.
type Step struct {
	ID       string      `json:"id"`
	Approver string      `json:"approver"`
	MinRole  entity.Role `json:"minRole"`
	// Mandatory steps gate resolution; optional steps are advisory.
	Mandatory bool `json:"mandatory"`
	// Priority orders steps in ordered chains. Lower decides first.
	Priority int        `json:"priority"`
	Status   StepStatus `json:"status"`

	AssignedAt time.Time  `json:"assignedAt"`
	DecidedAt  *time.Time `json:"decidedAt,omitempty"`
	// ResponseTimeMillis is DecidedAt - AssignedAt, kept as integer millis.
	ResponseTimeMillis int64  `json:"responseTimeMillis,omitempty"`
	Comment            string `json:"comment,omitempty"`
}

// Chain is the approval state for one subject entity. It is persisted as
// the body of an approval entity and mutated only through RecordDecision.
type Chain struct {
	SubjectID   string      `json:"subjectId"`
	SubjectType entity.Type `json:"subjectType"`
	// Ordered chains require earlier mandatory steps to be decided before
	// later ones; parallel chains accept decisions in any order.
	Ordered bool        `json:"ordered"`
	Status  ChainStatus `json:"status"`
	Steps   []Step      `json:"steps"`
}

// Step returns a pointer to the step with the given id.
func (c *Chain) Step(stepID string) (*Step, error) {
	for i := range c.Steps {
		if c.Steps[i].ID == stepID {
			return &c.Steps[i], nil
		}
	}
	return nil, entity.NewValidationError("stepId", fmt.Sprintf("no step %q in chain", stepID))
}

// RecordDecision applies one approver's verdict to a step and re-resolves
// the chain.
//
// The actor must be the step's assigned approver (admins may decide any
// step) and must hold at least the step's role. Decisions against a
// resolved chain or an already-decided step are rejected - resolution
// leaves pending steps untouched, it does not cancel them, but they can no
// longer be decided.
func (c *Chain) RecordDecision(stepID string, decision Decision, actor entity.Actor, now time.Time) error {
	if c.Status != ChainPending {
		return entity.NewValidationError("chain", fmt.Sprintf("chain already resolved %s", c.Status))
	}

	step, err := c.Step(stepID)
	if err != nil {
		return err
	}
	if step.Status != StepPending {
		return entity.NewValidationError("stepId", fmt.Sprintf("step %s already %s", stepID, step.Status))
	}
	if actor.ID != step.Approver && !actor.Role.AtLeast(entity.RoleAdmin) {
		return entity.NewPermissionError(actor, step.MinRole, fmt.Sprintf("decide step assigned to %s", step.Approver))
	}
	if !actor.Role.AtLeast(step.MinRole) {
		return entity.NewPermissionError(actor, step.MinRole, "record approval decision")
	}
	if c.Ordered {
		if blocked := c.earlierUndecided(step); blocked != nil {
			return entity.NewValidationError("stepId",
				fmt.Sprintf("ordered chain: step %s must be decided before %s", blocked.ID, stepID))
		}
	}

	decided := now.UTC()
	step.Status = StepStatus(decision)
	step.DecidedAt = &decided
	step.ResponseTimeMillis = decided.Sub(step.AssignedAt).Milliseconds()

	c.Status = c.Resolve()
	return nil
}

// earlierUndecided returns the first mandatory step with lower priority
// that is still pending, or nil.
func (c *Chain) earlierUndecided(target *Step) *Step {
	steps := make([]*Step, 0, len(c.Steps))
	for i := range c.Steps {
		steps = append(steps, &c.Steps[i])
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Priority < steps[j].Priority })

	for _, s := range steps {
		if s.Priority >= target.Priority {
			return nil
		}
		if s.Mandatory && s.Status == StepPending {
			return s
		}
	}
	return nil
}

// Resolve computes the chain's overall status from its steps.
//
// A single mandatory rejection resolves the chain rejected immediately -
// remaining steps are left untouched (short-circuit, not cancellation).
// The chain resolves approved only once every mandatory step is approved.
// Optional steps never block either way. A chain without any mandatory
// step (templates forbid these, but chains can be built directly) resolves
// approved only once every step is decided, so a lone optional decision
// cannot close it vacuously.
func (c *Chain) Resolve() ChainStatus {
	hasMandatory := false
	allMandatoryApproved := true
	for _, s := range c.Steps {
		if !s.Mandatory {
			continue
		}
		hasMandatory = true
		switch s.Status {
		case StepRejected:
			return ChainRejected
		case StepApproved:
		default:
			allMandatoryApproved = false
		}
	}
	if !hasMandatory {
		for _, s := range c.Steps {
			if s.Status == StepPending {
				return ChainPending
			}
		}
		return ChainApproved
	}
	if allMandatoryApproved {
		return ChainApproved
	}
	return ChainPending
}

// PendingSteps returns the ids of steps still awaiting a decision.
func (c *Chain) PendingSteps() []string {
	var out []string
	for _, s := range c.Steps {
		if s.Status == StepPending {
			out = append(out, s.ID)
		}
	}
	return out
}
