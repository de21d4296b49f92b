package store

import (
	"strings"
	"time"

	"github.com/procurekit/procurekit/internal/entity"
)

// Filter is a conjunctive predicate set over the indexed entity columns.
// Zero values mean "no constraint". Everything compiles to parameterized
// SQL - values are never interpolated.
type Filter struct {
	Types        []entity.Type
	Statuses     []entity.Status
	Department   string
	Category     string
	ParentID     string
	PartitionKey string
	CreatedFrom  time.Time
	CreatedTo    time.Time
}

// Compile returns the WHERE clause (without the keyword) and its
// parameters, for read-side consumers building aggregate queries over the
// same predicate set.
func (f Filter) Compile() (string, []any) {
	return f.compile()
}

// compile returns the WHERE clause (without the keyword) and its
// parameters. An empty filter compiles to ("", nil).
func (f Filter) compile() (string, []any) {
	var clauses []string
	var params []any

	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			params = append(params, string(t))
		}
		clauses = append(clauses, "entity_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			params = append(params, string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.Department != "" {
		clauses = append(clauses, "department = ?")
		params = append(params, f.Department)
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		params = append(params, f.Category)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id = ?")
		params = append(params, f.ParentID)
	}
	if f.PartitionKey != "" {
		clauses = append(clauses, "partition_key = ?")
		params = append(params, f.PartitionKey)
	}
	if !f.CreatedFrom.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		params = append(params, f.CreatedFrom.UTC().Format(timeColumn))
	}
	if !f.CreatedTo.IsZero() {
		clauses = append(clauses, "created_at < ?")
		params = append(params, f.CreatedTo.UTC().Format(timeColumn))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return strings.Join(clauses, " AND "), params
}
