package workflow

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/procurekit/procurekit/internal/entity"
)

//go:embed definitions.cue
var defaultDefinitions []byte

// CompileError reports a problem in a workflow definition.
type CompileError struct {
	Workflow string
	Field    string
	Message  string
	Pos      token.Pos
}

func (e *CompileError) Error() string {
	if e.Workflow != "" {
		return fmt.Sprintf("workflow %s: %s: %s", e.Workflow, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileDefault compiles the embedded definitions and requires a workflow
// for every known entity type.
func CompileDefault() (Registry, error) {
	reg, err := Compile(defaultDefinitions)
	if err != nil {
		return nil, err
	}
	for _, t := range entity.Types {
		if _, ok := reg[t]; !ok {
			return nil, &CompileError{Field: "workflows", Message: fmt.Sprintf("missing workflow for entity type %s", t)}
		}
	}
	return reg, nil
}

// Compile parses CUE workflow definitions into a Registry.
// Uses the CUE SDK's Go API directly (not CLI subprocess).
//
// Beyond syntax, compilation enforces the structural invariants the state
// machine depends on:
//   - every declared terminal status has no outgoing edges
//   - every status with no outgoing edges is declared terminal
//   - the initial status appears in the table
//   - no duplicate or self-loop edges
//   - the deletion status is declared terminal
func Compile(src []byte) (Registry, error) {
	ctx := cuecontext.New()
	root := ctx.CompileBytes(src)
	if err := root.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	wfVal := root.LookupPath(cue.ParsePath("workflows"))
	if !wfVal.Exists() {
		return nil, &CompileError{Field: "workflows", Message: "workflows block is required"}
	}

	iter, err := wfVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	reg := make(Registry)
	for iter.Next() {
		name := iter.Selector().Unquoted()
		t := entity.Type(name)
		if !t.Valid() {
			return nil, &CompileError{
				Workflow: name,
				Field:    "name",
				Message:  fmt.Sprintf("unknown entity type %q", name),
				Pos:      iter.Value().Pos(),
			}
		}

		def, err := compileDefinition(t, iter.Value())
		if err != nil {
			return nil, err
		}
		reg[t] = def
	}

	return reg, nil
}

func compileDefinition(t entity.Type, v cue.Value) (*Definition, error) {
	name := string(t)

	initialVal := v.LookupPath(cue.ParsePath("initial"))
	if !initialVal.Exists() {
		return nil, &CompileError{Workflow: name, Field: "initial", Message: "initial status is required", Pos: v.Pos()}
	}
	initial, err := initialVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	def := &Definition{
		Type:     t,
		Initial:  entity.Status(initial),
		edges:    make(map[entity.Status]map[entity.Status]entity.Role),
		terminal: make(map[entity.Status]bool),
	}

	transVal := v.LookupPath(cue.ParsePath("transitions"))
	if !transVal.Exists() {
		return nil, &CompileError{Workflow: name, Field: "transitions", Message: "at least one transition is required", Pos: v.Pos()}
	}
	list, err := transVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for list.Next() {
		edge, err := compileEdge(name, list.Value())
		if err != nil {
			return nil, err
		}
		if edge.From == edge.To {
			return nil, &CompileError{
				Workflow: name, Field: "transitions",
				Message: fmt.Sprintf("self-loop on %s", edge.From),
				Pos:     list.Value().Pos(),
			}
		}
		if _, dup := def.edges[edge.From][edge.To]; dup {
			return nil, &CompileError{
				Workflow: name, Field: "transitions",
				Message: fmt.Sprintf("duplicate edge %s -> %s", edge.From, edge.To),
				Pos:     list.Value().Pos(),
			}
		}
		if def.edges[edge.From] == nil {
			def.edges[edge.From] = make(map[entity.Status]entity.Role)
		}
		def.edges[edge.From][edge.To] = edge.MinRole
	}
	if len(def.edges) == 0 {
		return nil, &CompileError{Workflow: name, Field: "transitions", Message: "at least one transition is required", Pos: v.Pos()}
	}

	declaredTerminal := make(map[entity.Status]bool)
	termVal := v.LookupPath(cue.ParsePath("terminal"))
	if termVal.Exists() {
		list, err := termVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			s, err := list.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			declaredTerminal[entity.Status(s)] = true
		}
	}

	// Terminal means "no outgoing edges" - the declaration must agree with
	// the edge set, both directions.
	for s := range declaredTerminal {
		if len(def.edges[s]) > 0 {
			return nil, &CompileError{
				Workflow: name, Field: "terminal",
				Message: fmt.Sprintf("status %s is declared terminal but has outgoing edges", s),
				Pos:     termVal.Pos(),
			}
		}
	}
	reachable := make(map[entity.Status]bool)
	for from, targets := range def.edges {
		reachable[from] = true
		for to := range targets {
			reachable[to] = true
		}
	}
	for s := range reachable {
		if len(def.edges[s]) == 0 && !declaredTerminal[s] {
			return nil, &CompileError{
				Workflow: name, Field: "terminal",
				Message: fmt.Sprintf("status %s has no outgoing edges but is not declared terminal", s),
				Pos:     v.Pos(),
			}
		}
	}
	if !reachable[def.Initial] {
		return nil, &CompileError{
			Workflow: name, Field: "initial",
			Message: fmt.Sprintf("initial status %s does not appear in the transition table", def.Initial),
			Pos:     initialVal.Pos(),
		}
	}

	delVal := v.LookupPath(cue.ParsePath("deletion"))
	if !delVal.Exists() {
		return nil, &CompileError{Workflow: name, Field: "deletion", Message: "deletion status is required", Pos: v.Pos()}
	}
	deletion, err := delVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	def.Deletion = entity.Status(deletion)
	if !declaredTerminal[def.Deletion] {
		return nil, &CompileError{
			Workflow: name, Field: "deletion",
			Message: fmt.Sprintf("deletion status %s is not declared terminal", deletion),
			Pos:     delVal.Pos(),
		}
	}

	def.terminal = declaredTerminal
	return def, nil
}

func compileEdge(workflow string, v cue.Value) (Edge, error) {
	from, err := v.LookupPath(cue.ParsePath("from")).String()
	if err != nil {
		return Edge{}, formatCUEError(err)
	}
	to, err := v.LookupPath(cue.ParsePath("to")).String()
	if err != nil {
		return Edge{}, formatCUEError(err)
	}
	roleName, err := v.LookupPath(cue.ParsePath("minRole")).String()
	if err != nil {
		return Edge{}, formatCUEError(err)
	}
	role, err := entity.ParseRole(roleName)
	if err != nil {
		return Edge{}, &CompileError{
			Workflow: workflow, Field: "minRole",
			Message: fmt.Sprintf("unknown role %q", roleName),
			Pos:     v.Pos(),
		}
	}
	return Edge{From: entity.Status(from), To: entity.Status(to), MinRole: role}, nil
}

// formatCUEError converts CUE SDK errors to a CompileError with position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	var pos token.Pos
	if positions := cueerrors.Positions(err); len(positions) > 0 {
		pos = positions[0]
	}
	return &CompileError{Field: "cue", Message: cueerrors.Details(err, nil), Pos: pos}
}
