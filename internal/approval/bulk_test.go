package approval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurekit/procurekit/internal/audit"
	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
	"github.com/procurekit/procurekit/internal/testutil"
)

func newCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	s := testutil.NewTestStore(t)
	rec := audit.NewRecorder(s, nil)
	return NewCoordinator(s, rec, nil), s
}

func subjectRFQ(t *testing.T, s *store.Store, amountCents int64) *entity.Entity {
	t.Helper()
	e := testutil.NewRFQ("it", amountCents)
	e.Status = "published"
	return testutil.MustCreate(t, s, e)
}

func TestCreateChain_PersistsApprovalEntity(t *testing.T) {
	coord, s := newCoordinator(t)
	ctx := context.Background()
	templates, err := DefaultTemplates()
	require.NoError(t, err)

	subject := subjectRFQ(t, s, 100_000_00)
	admin := entity.Actor{ID: "root", Role: entity.RoleAdmin}

	e, chain, err := coord.CreateChain(ctx, templates, subject, []string{"alice", "bob"}, admin)
	require.NoError(t, err)

	assert.Equal(t, entity.TypeApproval, e.Type)
	assert.Equal(t, subject.ID, e.ParentID)
	assert.EqualValues(t, "pending", e.Status)
	assert.Equal(t, subject.AmountCents, e.AmountCents)
	assert.Equal(t, ChainPending, chain.Status)
	assert.Len(t, chain.Steps, 2, "small rfq band selects the two-step template")

	stored, err := s.Get(ctx, e.ID, e.PartitionKey)
	require.NoError(t, err)
	assert.Equal(t, e.Version, stored.Version)
	require.Len(t, stored.AuditTrail, 1, "the chain_created entry rides the insert")
	assert.Equal(t, "chain_created", stored.AuditTrail[0].Action)
}

func TestDecide_ResolvesChainAndEntityStatus(t *testing.T) {
	coord, s := newCoordinator(t)
	ctx := context.Background()
	templates, err := DefaultTemplates()
	require.NoError(t, err)

	subject := subjectRFQ(t, s, 100_000_00)
	admin := entity.Actor{ID: "root", Role: entity.RoleAdmin}
	e, chain, err := coord.CreateChain(ctx, templates, subject, []string{"alice", "bob"}, admin)
	require.NoError(t, err)

	// Only the first step is mandatory in rfq-small.
	got, err := coord.Decide(ctx, e.ID, e.PartitionKey, chain.Steps[0].ID, DecisionApproved,
		entity.Actor{ID: "alice", Role: entity.RoleApprover}, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, ChainApproved, got.Status)

	stored, err := s.Get(ctx, e.ID, e.PartitionKey)
	require.NoError(t, err)
	assert.EqualValues(t, "approved", stored.Status)
	assert.Greater(t, stored.Version, e.Version)

	history, err := s.AuditHistory(ctx, entity.AuditPartition(e.Type, e.ID))
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, "decision_recorded", last.Action)
	assert.Equal(t, "approved", last.Details["decision"])
}

func TestDecide_RejectedDecisionLeavesEntityUnchanged(t *testing.T) {
	coord, s := newCoordinator(t)
	ctx := context.Background()
	templates, err := DefaultTemplates()
	require.NoError(t, err)

	subject := subjectRFQ(t, s, 100_000_00)
	admin := entity.Actor{ID: "root", Role: entity.RoleAdmin}
	e, chain, err := coord.CreateChain(ctx, templates, subject, []string{"alice", "bob"}, admin)
	require.NoError(t, err)

	_, err = coord.Decide(ctx, e.ID, e.PartitionKey, chain.Steps[0].ID, DecisionApproved,
		entity.Actor{ID: "mallory", Role: entity.RoleApprover}, "")
	require.Error(t, err)
	assert.True(t, entity.IsPermission(err))

	stored, err := s.Get(ctx, e.ID, e.PartitionKey)
	require.NoError(t, err)
	assert.EqualValues(t, "pending", stored.Status)
}

func TestApplyBulk_BadItemDoesNotAbortBatch(t *testing.T) {
	coord, s := newCoordinator(t)
	ctx := context.Background()
	templates, err := DefaultTemplates()
	require.NoError(t, err)
	admin := entity.Actor{ID: "root", Role: entity.RoleAdmin}

	// Ten independent single-approver chains.
	decisions := make([]BulkDecision, 0, 10)
	for i := 0; i < 10; i++ {
		subject := &entity.Entity{
			Type:        entity.TypePlan,
			Status:      "pending_approval",
			AmountCents: 10_000_00,
			Metadata:    entity.Metadata{Department: "ops"},
			Body:        []byte(`{}`),
		}
		require.NoError(t, s.Create(ctx, subject))

		e, chain, err := coord.CreateChain(ctx, templates, subject, []string{fmt.Sprintf("approver-%d", i)}, admin)
		require.NoError(t, err)

		d := BulkDecision{
			ChainID:      e.ID,
			PartitionKey: e.PartitionKey,
			StepID:       chain.Steps[0].ID,
			Decision:     "approved",
			ActorID:      fmt.Sprintf("approver-%d", i),
			ActorRole:    "approver",
		}
		if i == 4 {
			d.StepID = "no-such-step"
		}
		decisions = append(decisions, d)
	}

	outcome, err := coord.ApplyBulk(ctx, decisions)
	require.NoError(t, err)

	assert.Equal(t, 10, outcome.Processed)
	assert.Equal(t, 9, outcome.Succeeded)
	assert.Equal(t, 1, outcome.Failed)
	require.Len(t, outcome.Results, 10)

	for i, result := range outcome.Results {
		assert.Equal(t, i, result.Index)
		if i == 4 {
			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Error)
		} else {
			assert.True(t, result.Success, "item %d: %s", i, result.Error)
		}
	}
}

func TestApplyBulk_SameChainItemsApplyInOrder(t *testing.T) {
	coord, s := newCoordinator(t)
	ctx := context.Background()
	templates, err := DefaultTemplates()
	require.NoError(t, err)

	subject := subjectRFQ(t, s, 900_000_00)
	admin := entity.Actor{ID: "root", Role: entity.RoleAdmin}
	e, chain, err := coord.CreateChain(ctx, templates, subject, []string{"alice", "bob", "root"}, admin)
	require.NoError(t, err)
	require.True(t, chain.Ordered)

	// All three decisions for one ordered chain in a single batch. Grouping
	// keeps them sequential, so the ordered-chain priority check holds.
	decisions := []BulkDecision{
		{ChainID: e.ID, PartitionKey: e.PartitionKey, StepID: chain.Steps[0].ID, Decision: "approved", ActorID: "alice", ActorRole: "approver"},
		{ChainID: e.ID, PartitionKey: e.PartitionKey, StepID: chain.Steps[1].ID, Decision: "approved", ActorID: "bob", ActorRole: "approver"},
		{ChainID: e.ID, PartitionKey: e.PartitionKey, StepID: chain.Steps[2].ID, Decision: "approved", ActorID: "root", ActorRole: "admin"},
	}

	outcome, err := coord.ApplyBulk(ctx, decisions)
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Succeeded)
	assert.Equal(t, 0, outcome.Failed)

	stored, err := s.Get(ctx, e.ID, e.PartitionKey)
	require.NoError(t, err)
	assert.EqualValues(t, "approved", stored.Status)
}

func TestApplyBulk_Bounds(t *testing.T) {
	coord, _ := newCoordinator(t)
	ctx := context.Background()

	_, err := coord.ApplyBulk(ctx, nil)
	require.Error(t, err)
	assert.True(t, entity.IsValidation(err))

	over := make([]BulkDecision, MaxBatchSize+1)
	_, err = coord.ApplyBulk(ctx, over)
	require.Error(t, err)
	assert.True(t, entity.IsValidation(err))
}

func TestDecide_RejectionResolvesChainRejected(t *testing.T) {
	coord, s := newCoordinator(t)
	ctx := context.Background()
	templates, err := DefaultTemplates()
	require.NoError(t, err)

	subject := subjectRFQ(t, s, 100_000_00)
	admin := entity.Actor{ID: "root", Role: entity.RoleAdmin}
	e, chain, err := coord.CreateChain(ctx, templates, subject, []string{"alice", "bob"}, admin)
	require.NoError(t, err)

	got, err := coord.Decide(ctx, e.ID, e.PartitionKey, chain.Steps[0].ID, DecisionRejected,
		entity.Actor{ID: "alice", Role: entity.RoleApprover}, "over budget")
	require.NoError(t, err)
	assert.Equal(t, ChainRejected, got.Status)

	stored, err := s.Get(ctx, e.ID, e.PartitionKey)
	require.NoError(t, err)
	assert.EqualValues(t, "rejected", stored.Status)
}
