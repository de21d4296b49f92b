package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurekit/procurekit/internal/audit"
	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
	"github.com/procurekit/procurekit/internal/testutil"
)

func newEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s := testutil.NewTestStore(t)
	return NewEngine(s, audit.NewRecorder(s, nil), nil), s
}

func seedRFQ(t *testing.T, s *store.Store, cfg Config, panelSize int) *entity.Entity {
	t.Helper()
	body, err := json.Marshal(rfqBody{Evaluation: cfg, PanelSize: panelSize})
	require.NoError(t, err)

	rfq := &entity.Entity{
		Type:     entity.TypeRFQ,
		Status:   "evaluating",
		Metadata: entity.Metadata{Department: "it"},
		Body:     body,
	}
	require.NoError(t, s.Create(context.Background(), rfq))
	return rfq
}

func seedSubmission(t *testing.T, s *store.Store, rfqID, vendor string, priceCents int64, totals ...float64) *entity.Entity {
	t.Helper()
	ctx := context.Background()

	body, err := json.Marshal(submissionBody{Vendor: vendor, PriceCents: priceCents})
	require.NoError(t, err)
	sub := testutil.NewSubmission(rfqID, "it", priceCents)
	sub.Body = body
	testutil.MustCreate(t, s, sub)

	for i, total := range totals {
		eb, err := json.Marshal(evaluationBody{
			Evaluator: fmt.Sprintf("e%d", i+1),
			Scores:    []CriterionScore{{Criterion: "quality", Weight: 1, Score: total}},
		})
		require.NoError(t, err)
		ev := &entity.Entity{
			Type:     entity.TypeEvaluation,
			Status:   "submitted",
			ParentID: sub.ID,
			Metadata: entity.Metadata{Department: "it"},
			Body:     eb,
		}
		require.NoError(t, s.Create(ctx, ev))
	}
	return sub
}

func TestEngineRun_PersistsConsolidation(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	rfq := seedRFQ(t, s, Config{Method: MethodQCBS, TechWeight: 0.8, FinWeight: 0.2, MaxScore: 100}, 2)
	low := seedSubmission(t, s, rfq.ID, "Acme Supply", 8000_00, 90, 90)
	seedSubmission(t, s, rfq.ID, "Birch Industrial", 10000_00, 70, 80)

	actor := entity.Actor{ID: "eval-lead", Role: entity.RoleEvaluator}
	out, err := eng.Run(ctx, rfq.ID, rfq.PartitionKey, actor)
	require.NoError(t, err)

	require.Len(t, out.Results, 2)
	assert.Equal(t, low.ID, out.Recommended)
	assert.EqualValues(t, 8000_00, out.LowestPriceCents)

	// The ranking is durable in the RFQ document.
	stored, err := s.Get(ctx, rfq.ID, rfq.PartitionKey)
	require.NoError(t, err)
	assert.Greater(t, stored.Version, rfq.Version)

	require.NotEmpty(t, stored.AuditTrail, "the consolidation entry rides the write")
	assert.Equal(t, "evaluation_consolidated", stored.AuditTrail[len(stored.AuditTrail)-1].Action)

	var body rfqBody
	require.NoError(t, json.Unmarshal(stored.Body, &body))
	require.NotNil(t, body.Consolidation)
	assert.Equal(t, out.Recommended, body.Consolidation.Recommended)
	assert.Equal(t, MethodQCBS, body.Consolidation.Method)

	history, err := s.AuditHistory(ctx, entity.AuditPartition(entity.TypeRFQ, rfq.ID))
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, "evaluation_consolidated", last.Action)
	assert.Equal(t, low.ID, last.Details["recommended"])
}

func TestEngineRun_KeepsUnrelatedBodyFields(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	cfg := Config{Method: MethodQCBS, TechWeight: 0.5, FinWeight: 0.5, MaxScore: 100}
	raw, err := json.Marshal(map[string]any{
		"evaluation": cfg,
		"panelSize":  1,
		"title":      "network gear",
	})
	require.NoError(t, err)

	rfq := &entity.Entity{
		Type:     entity.TypeRFQ,
		Status:   "evaluating",
		Metadata: entity.Metadata{Department: "it"},
		Body:     raw,
	}
	require.NoError(t, s.Create(ctx, rfq))
	seedSubmission(t, s, rfq.ID, "Acme Supply", 100_00, 80)

	_, err = eng.Run(ctx, rfq.ID, rfq.PartitionKey, entity.Actor{ID: "e", Role: entity.RoleEvaluator})
	require.NoError(t, err)

	stored, err := s.Get(ctx, rfq.ID, rfq.PartitionKey)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(stored.Body, &doc))
	assert.Contains(t, doc, "title")
	assert.Contains(t, doc, "consolidation")
}

func TestEngineRun_Rejections(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	t.Run("not an rfq", func(t *testing.T) {
		plan := &entity.Entity{
			Type:     entity.TypePlan,
			Status:   "draft",
			Metadata: entity.Metadata{Department: "it"},
			Body:     []byte(`{}`),
		}
		require.NoError(t, s.Create(ctx, plan))

		_, err := eng.Run(ctx, plan.ID, plan.PartitionKey, entity.Actor{ID: "e", Role: entity.RoleEvaluator})
		require.Error(t, err)
		assert.True(t, entity.IsValidation(err))
	})

	t.Run("no submissions", func(t *testing.T) {
		rfq := seedRFQ(t, s, Config{Method: MethodQCBS, TechWeight: 0.8, FinWeight: 0.2, MaxScore: 100}, 1)
		_, err := eng.Run(ctx, rfq.ID, rfq.PartitionKey, entity.Actor{ID: "e", Role: entity.RoleEvaluator})
		require.Error(t, err)
		assert.True(t, entity.IsValidation(err))
	})

	t.Run("unknown rfq", func(t *testing.T) {
		_, err := eng.Run(ctx, "missing", "missing|it", entity.Actor{ID: "e", Role: entity.RoleEvaluator})
		require.Error(t, err)
		assert.True(t, entity.IsNotFound(err))
	})
}
