package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/procurekit/procurekit/internal/audit"
	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
)

// Engine consolidates an RFQ's submissions from persisted entities and
// writes the ranked outcome back onto the RFQ.
//
// Submissions are children of the RFQ; each evaluator's score sheet is an
// evaluation entity parented to its submission. The consolidation is a
// compensating write: it happens after the evaluations land, so readers
// may briefly observe evaluations without a ranking.
type Engine struct {
	store    *store.Store
	recorder *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an Engine over the given store.
func NewEngine(s *store.Store, rec *audit.Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, recorder: rec, logger: logger, now: time.Now}
}

// WithClock overrides the wall clock for deterministic tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// rfqBody is the slice of an RFQ document the engine reads and writes.
type rfqBody struct {
	Evaluation    Config         `json:"evaluation"`
	PanelSize     int            `json:"panelSize,omitempty"`
	Consolidation *Consolidation `json:"consolidation,omitempty"`
}

// submissionBody is the slice of a submission document the engine reads.
type submissionBody struct {
	Vendor     string `json:"vendor"`
	PriceCents int64  `json:"priceCents"`
}

// evaluationBody is one evaluator's persisted score sheet.
type evaluationBody struct {
	Evaluator string           `json:"evaluator"`
	Scores    []CriterionScore `json:"scores"`
}

// Run consolidates the RFQ's submissions and persists the ranking in the
// RFQ document under "consolidation". Returns the consolidation.
func (e *Engine) Run(ctx context.Context, rfqID, partitionKey string, actor entity.Actor) (*Consolidation, error) {
	rfq, err := e.store.Get(ctx, rfqID, partitionKey)
	if err != nil {
		return nil, err
	}
	if rfq.Type != entity.TypeRFQ {
		return nil, entity.NewValidationError("rfqId", fmt.Sprintf("entity %s is a %s, not an rfq", rfqID, rfq.Type))
	}

	var body rfqBody
	if err := json.Unmarshal(rfq.Body, &body); err != nil {
		return nil, fmt.Errorf("consolidate %s: decode rfq: %w", rfqID, err)
	}

	inputs, err := e.loadInputs(ctx, rfqID, body.PanelSize)
	if err != nil {
		return nil, err
	}

	result, err := Consolidate(body.Evaluation, inputs)
	if err != nil {
		return nil, err
	}
	if result.WeightsInconsistent {
		e.logger.Warn("evaluation weights do not sum to 1, scoring with supplied weights",
			"rfq", rfqID,
			"techWeight", body.Evaluation.TechWeight,
			"finWeight", body.Evaluation.FinWeight)
	}

	details := map[string]string{
		"method":      string(result.Method),
		"submissions": fmt.Sprintf("%d", len(result.Results)),
	}
	if result.Recommended != "" {
		details["recommended"] = result.Recommended
	}

	var entry entity.AuditEntry
	updated, err := e.store.Update(ctx, rfqID, partitionKey, func(cur *entity.Entity) error {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(cur.Body, &doc); err != nil {
			return fmt.Errorf("consolidate %s: decode rfq: %w", rfqID, err)
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("consolidate %s: encode result: %w", rfqID, err)
		}
		if doc == nil {
			doc = make(map[string]json.RawMessage)
		}
		doc["consolidation"] = raw
		cur.Body, err = json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("consolidate %s: encode rfq: %w", rfqID, err)
		}
		cur.Metadata.LastActivity = e.now().UTC()

		entry, err = e.recorder.Prepare(ctx, cur, "evaluation_consolidated", actor, details)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := e.recorder.Commit(ctx, updated.Type, updated.ID, entry); err != nil {
		return nil, err
	}

	return result, nil
}

// loadInputs assembles consolidation inputs from the RFQ's submission
// entities and their evaluator records.
func (e *Engine) loadInputs(ctx context.Context, rfqID string, panelSize int) ([]SubmissionInput, error) {
	subs, err := e.queryAll(ctx, store.Filter{
		Types:    []entity.Type{entity.TypeSubmission},
		ParentID: rfqID,
	})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, entity.NewValidationError("rfqId", fmt.Sprintf("rfq %s has no submissions", rfqID))
	}

	inputs := make([]SubmissionInput, 0, len(subs))
	for _, sub := range subs {
		var sb submissionBody
		if err := json.Unmarshal(sub.Body, &sb); err != nil {
			return nil, fmt.Errorf("consolidate: decode submission %s: %w", sub.ID, err)
		}

		evals, err := e.queryAll(ctx, store.Filter{
			Types:    []entity.Type{entity.TypeEvaluation},
			ParentID: sub.ID,
		})
		if err != nil {
			return nil, err
		}

		in := SubmissionInput{
			SubmissionID:       sub.ID,
			Vendor:             sb.Vendor,
			SubmittedAt:        sub.CreatedAt,
			PriceCents:         sb.PriceCents,
			AssignedEvaluators: panelSize,
		}
		for _, ev := range evals {
			var eb evaluationBody
			if err := json.Unmarshal(ev.Body, &eb); err != nil {
				return nil, fmt.Errorf("consolidate: decode evaluation %s: %w", ev.ID, err)
			}
			in.Sheets = append(in.Sheets, ScoreSheet{Evaluator: eb.Evaluator, Scores: eb.Scores})
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func (e *Engine) queryAll(ctx context.Context, f store.Filter) ([]*entity.Entity, error) {
	var out []*entity.Entity
	for page := 1; ; page++ {
		p, err := e.store.Query(ctx, f, page, 200)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Items...)
		if len(out) >= p.Total || len(p.Items) == 0 {
			return out, nil
		}
	}
}
