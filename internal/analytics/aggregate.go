// Package analytics computes read-only rollups over the indexed entity
// columns. It never touches document bodies and never writes.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
)

// Dimension is the grouping axis of a rollup.
type Dimension string

const (
	DimDepartment Dimension = "department"
	DimCategory   Dimension = "category"
	DimStatus     Dimension = "status"
	// DimMonth buckets by creation month, formatted YYYY-MM.
	DimMonth Dimension = "month"
)

// ParseDimension validates a dimension string.
func ParseDimension(s string) (Dimension, error) {
	switch Dimension(s) {
	case DimDepartment, DimCategory, DimStatus, DimMonth:
		return Dimension(s), nil
	default:
		return "", entity.NewValidationError("dimension", fmt.Sprintf("unknown dimension %q", s))
	}
}

// UnknownBucket collects rows whose dimension value is empty.
const UnknownBucket = "unknown"

// Request describes one rollup. The filter runs against the same indexed
// columns the query path uses, so date-range and field pre-filtering stay
// cheap.
type Request struct {
	Dimension Dimension
	Filter    store.Filter
}

// Bucket is one group of the rollup. Sum and average are over amount
// cents; both are zero for empty groups rather than null.
type Bucket struct {
	Key          string  `json:"key"`
	Count        int64   `json:"count"`
	SumCents     int64   `json:"sumCents"`
	AverageCents float64 `json:"averageCents"`
}

// Aggregator runs grouped rollups directly against the store's database.
type Aggregator struct {
	store  *store.Store
	logger *slog.Logger
}

// NewAggregator creates an Aggregator over the given store.
func NewAggregator(s *store.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: s, logger: logger}
}

// dimensionExpr maps a dimension onto its SQL grouping expression. Month
// derives from created_at; the rest are indexed columns.
func dimensionExpr(d Dimension) (string, error) {
	switch d {
	case DimDepartment:
		return "department", nil
	case DimCategory:
		return "category", nil
	case DimStatus:
		return "status", nil
	case DimMonth:
		return "strftime('%Y-%m', created_at)", nil
	default:
		return "", entity.NewValidationError("dimension", fmt.Sprintf("unknown dimension %q", d))
	}
}

// Aggregate runs the rollup and returns buckets sorted by key. Rows with
// an empty dimension value land in the unknown bucket.
func (a *Aggregator) Aggregate(ctx context.Context, req Request) ([]Bucket, error) {
	expr, err := dimensionExpr(req.Dimension)
	if err != nil {
		return nil, err
	}

	where, params := req.Filter.Compile()
	query := fmt.Sprintf(
		`SELECT COALESCE(NULLIF(%s, ''), '%s') AS bucket,
		        COUNT(*),
		        COALESCE(SUM(amount_cents), 0)
		 FROM entities`, expr, UnknownBucket)
	if where != "" {
		query += " WHERE " + where
	}
	query += " GROUP BY bucket"

	rows, err := a.store.DB().QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("aggregate by %s: %w", req.Dimension, err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Key, &b.Count, &b.SumCents); err != nil {
			return nil, fmt.Errorf("aggregate by %s: %w", req.Dimension, err)
		}
		if b.Count > 0 {
			b.AverageCents = roundCents(float64(b.SumCents) / float64(b.Count))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate by %s: %w", req.Dimension, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// roundCents rounds half-even to two decimals.
func roundCents(x float64) float64 {
	return math.RoundToEven(x*100) / 100
}
