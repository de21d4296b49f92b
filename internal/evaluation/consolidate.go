// Package evaluation consolidates per-evaluator score sheets into ranked
// submission results. Three selection methods are supported: QCBS blends
// weighted technical and financial scores, LCS picks the lowest qualified
// price, FBS scores technical merit within a fixed budget.
package evaluation

import (
	"fmt"
	"math"
	"time"

	"github.com/procurekit/procurekit/internal/entity"
)

// Method is the submission selection method of an RFQ.
type Method string

const (
	// MethodQCBS is quality and cost based selection.
	MethodQCBS Method = "qcbs"
	// MethodLCS is least cost selection.
	MethodLCS Method = "lcs"
	// MethodFBS is fixed budget selection.
	MethodFBS Method = "fbs"
)

// ParseMethod validates a method string.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodQCBS, MethodLCS, MethodFBS:
		return Method(s), nil
	default:
		return "", entity.NewValidationError("method", fmt.Sprintf("unknown evaluation method %q", s))
	}
}

// LowCompletenessThreshold marks a submission's scores as low-reliability
// when fewer than this fraction of assigned evaluators responded.
const LowCompletenessThreshold = 0.8

// Config is an RFQ's evaluation configuration.
type Config struct {
	Method Method `json:"method"`
	// TechWeight and FinWeight blend the QCBS overall score. They are used
	// exactly as supplied; a sum other than 1 sets WeightsInconsistent on
	// the result instead of silently renormalizing.
	TechWeight float64 `json:"techWeight"`
	FinWeight  float64 `json:"finWeight"`
	// MaxScore is the score ceiling of a single criterion, used to
	// normalize the consistency signal.
	MaxScore float64 `json:"maxScore"`
	// FixedBudgetCents bounds eligible quotes under FBS.
	FixedBudgetCents int64 `json:"fixedBudgetCents,omitempty"`
}

// Validate checks the configuration before consolidation.
func (c Config) Validate() error {
	if _, err := ParseMethod(string(c.Method)); err != nil {
		return err
	}
	if c.MaxScore <= 0 {
		return entity.NewValidationError("maxScore", "must be positive")
	}
	if c.TechWeight < 0 || c.FinWeight < 0 {
		return entity.NewValidationError("weights", "must not be negative")
	}
	if c.Method == MethodFBS && c.FixedBudgetCents <= 0 {
		return entity.NewValidationError("fixedBudgetCents", "required for fixed budget selection")
	}
	return nil
}

// CriterionScore is one evaluator's score against one weighted criterion.
type CriterionScore struct {
	Criterion string  `json:"criterion"`
	Weight    float64 `json:"weight"`
	Score     float64 `json:"score"`
}

// ScoreSheet is one evaluator's complete scoring of one submission.
type ScoreSheet struct {
	Evaluator string           `json:"evaluator"`
	Scores    []CriterionScore `json:"scores"`
}

// Total is the sheet's weighted mean score. Criterion weights are
// normalized by their own sum and need not total 1.
func (s ScoreSheet) Total() (float64, error) {
	var weightSum, scoreSum float64
	for _, cs := range s.Scores {
		if cs.Weight < 0 {
			return 0, entity.NewValidationError("weight",
				fmt.Sprintf("criterion %s: negative weight", cs.Criterion))
		}
		weightSum += cs.Weight
		scoreSum += cs.Weight * cs.Score
	}
	if weightSum == 0 {
		return 0, entity.NewValidationError("scores", fmt.Sprintf("evaluator %s: no weighted criteria", s.Evaluator))
	}
	return scoreSum / weightSum, nil
}

// SubmissionInput is the consolidation input for one submission.
type SubmissionInput struct {
	SubmissionID string       `json:"submissionId"`
	Vendor       string       `json:"vendor,omitempty"`
	SubmittedAt  time.Time    `json:"submittedAt"`
	PriceCents   int64        `json:"priceCents"`
	Sheets       []ScoreSheet `json:"sheets"`
	// AssignedEvaluators is the size of the evaluator panel. Zero means
	// every responding evaluator was assigned.
	AssignedEvaluators int `json:"assignedEvaluators,omitempty"`
}

// Result is the consolidated outcome for one submission. All scores are
// rounded half-even to two decimals.
type Result struct {
	SubmissionID string    `json:"submissionId"`
	Vendor       string    `json:"vendor,omitempty"`
	SubmittedAt  time.Time `json:"submittedAt"`
	PriceCents   int64     `json:"priceCents"`

	Technical float64 `json:"technical"`
	Financial float64 `json:"financial"`
	Weighted  float64 `json:"weighted"`

	// Consistency is 1 - stddev(evaluator totals)/maxScore; 1 means the
	// panel agreed exactly.
	Consistency  float64 `json:"consistency"`
	Completeness float64 `json:"completeness"`
	// ReliabilityLow is set when too few assigned evaluators responded.
	ReliabilityLow bool `json:"reliabilityLow,omitempty"`
	// BudgetEligible is false under FBS when the quote exceeds the budget;
	// ineligible submissions are excluded from ranking.
	BudgetEligible bool `json:"budgetEligible"`

	// Rank is 1-based; 0 means excluded from ranking.
	Rank int `json:"rank"`
}

// Consolidation is the full ranked outcome for one RFQ.
type Consolidation struct {
	Method Method `json:"method"`
	// WeightsInconsistent records that techWeight+finWeight differed from 1
	// and scores were still computed with the supplied weights.
	WeightsInconsistent bool     `json:"weightsInconsistent,omitempty"`
	LowestPriceCents    int64    `json:"lowestPriceCents,omitempty"`
	Results             []Result `json:"results"`
	// Recommended is the top-ranked submission id, empty when nothing
	// ranked.
	Recommended string `json:"recommended,omitempty"`
}

// Consolidate scores every submission under the configuration and ranks
// the outcome. Inputs are not mutated.
func Consolidate(cfg Config, inputs []SubmissionInput) (*Consolidation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, entity.NewValidationError("submissions", "nothing to consolidate")
	}

	out := &Consolidation{Method: cfg.Method}
	if cfg.Method == MethodQCBS && math.Abs(cfg.TechWeight+cfg.FinWeight-1) > 1e-9 {
		out.WeightsInconsistent = true
	}

	lowest := int64(0)
	for _, in := range inputs {
		if in.PriceCents <= 0 {
			return nil, entity.NewValidationError("priceCents",
				fmt.Sprintf("submission %s: quoted price must be positive", in.SubmissionID))
		}
		if lowest == 0 || in.PriceCents < lowest {
			lowest = in.PriceCents
		}
	}
	out.LowestPriceCents = lowest

	out.Results = make([]Result, 0, len(inputs))
	for _, in := range inputs {
		r, err := consolidateOne(cfg, in, lowest)
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, r)
	}

	Rank(cfg.Method, out.Results)
	for _, r := range out.Results {
		if r.Rank == 1 {
			out.Recommended = r.SubmissionID
			break
		}
	}
	return out, nil
}

func consolidateOne(cfg Config, in SubmissionInput, lowestCents int64) (Result, error) {
	r := Result{
		SubmissionID:   in.SubmissionID,
		Vendor:         in.Vendor,
		SubmittedAt:    in.SubmittedAt,
		PriceCents:     in.PriceCents,
		BudgetEligible: true,
	}

	totals := make([]float64, 0, len(in.Sheets))
	for _, sheet := range in.Sheets {
		total, err := sheet.Total()
		if err != nil {
			return r, entity.NewValidationError("sheets",
				fmt.Sprintf("submission %s: %v", in.SubmissionID, err))
		}
		totals = append(totals, total)
	}
	if len(totals) == 0 {
		return r, entity.NewValidationError("sheets",
			fmt.Sprintf("submission %s: no evaluator score sheets", in.SubmissionID))
	}

	r.Technical = Round2(mean(totals))
	r.Consistency = Round2(1 - stddev(totals)/cfg.MaxScore)

	assigned := in.AssignedEvaluators
	if assigned < len(totals) {
		assigned = len(totals)
	}
	r.Completeness = Round2(float64(len(totals)) / float64(assigned))
	r.ReliabilityLow = r.Completeness < LowCompletenessThreshold

	switch cfg.Method {
	case MethodQCBS:
		r.Financial = Round2(100 * float64(lowestCents) / float64(in.PriceCents))
		r.Weighted = Round2(r.Technical*cfg.TechWeight + r.Financial*cfg.FinWeight)
	case MethodLCS:
		// Least cost: the price is the decision, technical is advisory.
		r.Weighted = r.Technical
	case MethodFBS:
		r.BudgetEligible = in.PriceCents <= cfg.FixedBudgetCents
		r.Weighted = r.Technical
	}
	return r, nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// Round2 rounds half-even to two decimals. Every reported score goes
// through this one helper so rounding stays uniform across methods.
func Round2(x float64) float64 {
	return math.RoundToEven(x*100) / 100
}
