package workflow

import (
	"sort"

	"github.com/procurekit/procurekit/internal/entity"
)

// Edge is one legal status transition with its minimum actor role.
type Edge struct {
	From    entity.Status `json:"from"`
	To      entity.Status `json:"to"`
	MinRole entity.Role   `json:"minRole"`
}

// Definition is the compiled transition table for one entity type.
// Immutable after compilation.
type Definition struct {
	Type    entity.Type
	Initial entity.Status
	// Deletion is the soft-delete target status, always terminal.
	Deletion entity.Status

	edges    map[entity.Status]map[entity.Status]entity.Role
	terminal map[entity.Status]bool
}

// Edge looks up the minimum role for a from->to transition.
// The second return is false when no such edge exists.
func (d *Definition) Edge(from, to entity.Status) (entity.Role, bool) {
	targets, ok := d.edges[from]
	if !ok {
		return 0, false
	}
	role, ok := targets[to]
	return role, ok
}

// IsTerminal reports whether the status has no outgoing edges.
func (d *Definition) IsTerminal(s entity.Status) bool {
	return d.terminal[s]
}

// Statuses returns every status in the table, sorted for deterministic
// iteration.
func (d *Definition) Statuses() []entity.Status {
	seen := map[entity.Status]bool{d.Initial: true}
	for from, targets := range d.edges {
		seen[from] = true
		for to := range targets {
			seen[to] = true
		}
	}
	for s := range d.terminal {
		seen[s] = true
	}

	out := make([]entity.Status, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Edges returns every edge in the table, sorted by (from, to).
func (d *Definition) Edges() []Edge {
	var out []Edge
	for from, targets := range d.edges {
		for to, role := range targets {
			out = append(out, Edge{From: from, To: to, MinRole: role})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Registry maps entity types to their compiled definitions.
type Registry map[entity.Type]*Definition

// Definition returns the table for an entity type, or a VALIDATION error
// if the type has no workflow.
func (r Registry) Definition(t entity.Type) (*Definition, error) {
	def, ok := r[t]
	if !ok {
		return nil, entity.NewValidationError("entityType", "no workflow definition for type "+string(t))
	}
	return def, nil
}
