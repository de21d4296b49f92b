package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/procurekit/procurekit/internal/audit"
	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
)

// MaxBatchSize bounds a single ApplyBulk call.
const MaxBatchSize = 50

// bulkWorkers bounds the parallelism of ApplyBulk. Decisions for the same
// chain are grouped and applied sequentially inside one worker, so the
// batch never races against itself on a chain's version.
const bulkWorkers = 4

// Coordinator persists chains as approval entities and applies decisions
// through the store's versioned update path.
type Coordinator struct {
	store    *store.Store
	recorder *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(s *store.Store, rec *audit.Recorder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: s, recorder: rec, logger: logger, now: time.Now}
}

// WithClock overrides the wall clock for deterministic tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// CreateChain builds a chain from the template set and persists it as an
// approval entity parented to the subject.
func (c *Coordinator) CreateChain(ctx context.Context, templates []Template, subject *entity.Entity, approvers []string, actor entity.Actor) (*entity.Entity, *Chain, error) {
	tmpl, err := SelectTemplate(templates, subject.Type, subject.AmountCents)
	if err != nil {
		return nil, nil, err
	}
	chain, err := BuildChain(tmpl, subject.ID, subject.Type, approvers, c.now())
	if err != nil {
		return nil, nil, err
	}

	body, err := json.Marshal(chain)
	if err != nil {
		return nil, nil, fmt.Errorf("create chain: %w", err)
	}

	e := &entity.Entity{
		ID:          uuid.NewString(),
		Type:        entity.TypeApproval,
		Status:      "pending",
		ParentID:    subject.ID,
		AmountCents: subject.AmountCents,
		Metadata: entity.Metadata{
			Department: subject.Metadata.Department,
			Category:   subject.Metadata.Category,
		},
		Lifecycle: entity.Lifecycle{CurrentStage: "pending"},
		Body:      body,
	}
	entry, err := c.recorder.Prepare(ctx, e, "chain_created", actor, map[string]string{
		"template": tmpl.Name,
		"subject":  subject.ID,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := c.store.Create(ctx, e); err != nil {
		return nil, nil, err
	}
	if err := c.recorder.Commit(ctx, e.Type, e.ID, entry); err != nil {
		return nil, nil, err
	}
	return e, chain, nil
}

// Decide applies one decision to a chain and persists the result. The
// chain entity's status mirrors the chain resolution, so the approval
// workflow table governs what the store will accept.
func (c *Coordinator) Decide(ctx context.Context, chainID, partitionKey, stepID string, decision Decision, actor entity.Actor, comment string) (*Chain, error) {
	var (
		chain Chain
		entry entity.AuditEntry
	)
	e, err := c.store.Update(ctx, chainID, partitionKey, func(e *entity.Entity) error {
		if err := json.Unmarshal(e.Body, &chain); err != nil {
			return fmt.Errorf("decide: unmarshal chain: %w", err)
		}

		if err := chain.RecordDecision(stepID, decision, actor, c.now()); err != nil {
			return err
		}
		if comment != "" {
			if step, err := chain.Step(stepID); err == nil {
				step.Comment = comment
			}
		}

		body, err := json.Marshal(&chain)
		if err != nil {
			return fmt.Errorf("decide: marshal chain: %w", err)
		}
		e.Body = body
		e.Status = entity.Status(chain.Status)
		e.Lifecycle.CurrentStage = e.Status

		entry, err = c.recorder.Prepare(ctx, e, "decision_recorded", actor, map[string]string{
			"step":       stepID,
			"decision":   string(decision),
			"resolution": string(chain.Status),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := c.recorder.Commit(ctx, e.Type, e.ID, entry); err != nil {
		return nil, err
	}

	return &chain, nil
}

// BulkDecision is one item of an ApplyBulk batch.
type BulkDecision struct {
	ChainID      string `yaml:"chainId" json:"chainId"`
	PartitionKey string `yaml:"partitionKey" json:"partitionKey"`
	StepID       string `yaml:"stepId" json:"stepId"`
	Decision     string `yaml:"decision" json:"decision"`
	ActorID      string `yaml:"actorId" json:"actorId"`
	ActorRole    string `yaml:"actorRole" json:"actorRole"`
	Comment      string `yaml:"comment,omitempty" json:"comment,omitempty"`
}

// BulkResult is the per-item outcome of an ApplyBulk batch.
type BulkResult struct {
	Index   int    `json:"index"`
	ChainID string `json:"chainId"`
	StepID  string `json:"stepId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BulkOutcome aggregates an ApplyBulk batch.
type BulkOutcome struct {
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []BulkResult `json:"results"`
}

// ApplyBulk applies a bounded batch of decisions with bounded parallelism.
// Each item's success or failure is isolated: a bad item is reported in
// its result slot and the rest of the batch proceeds. Items for the same
// chain run sequentially in submission order; distinct chains run on up to
// bulkWorkers workers.
func (c *Coordinator) ApplyBulk(ctx context.Context, decisions []BulkDecision) (*BulkOutcome, error) {
	if len(decisions) == 0 {
		return nil, entity.NewValidationError("decisions", "empty batch")
	}
	if len(decisions) > MaxBatchSize {
		return nil, entity.NewValidationError("decisions",
			fmt.Sprintf("batch size %d exceeds limit %d", len(decisions), MaxBatchSize))
	}

	outcome := &BulkOutcome{
		Processed: len(decisions),
		Results:   make([]BulkResult, len(decisions)),
	}

	// Group by chain so one chain's decisions never conflict with each
	// other; groups preserve submission order.
	type item struct {
		index    int
		decision BulkDecision
	}
	groups := make(map[string][]item)
	var order []string
	for i, d := range decisions {
		if _, seen := groups[d.ChainID]; !seen {
			order = append(order, d.ChainID)
		}
		groups[d.ChainID] = append(groups[d.ChainID], item{index: i, decision: d})
	}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, bulkWorkers)
		mu  sync.Mutex
	)
	for _, chainID := range order {
		group := groups[chainID]
		wg.Add(1)
		go func(group []item) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			for _, it := range group {
				result := c.applyOne(ctx, it.decision)
				result.Index = it.index
				mu.Lock()
				outcome.Results[it.index] = result
				if result.Success {
					outcome.Succeeded++
				} else {
					outcome.Failed++
				}
				mu.Unlock()
			}
		}(group)
	}
	wg.Wait()

	return outcome, nil
}

func (c *Coordinator) applyOne(ctx context.Context, d BulkDecision) BulkResult {
	result := BulkResult{ChainID: d.ChainID, StepID: d.StepID}

	decision, err := ParseDecision(d.Decision)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	role, err := entity.ParseRole(d.ActorRole)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	actor := entity.Actor{ID: d.ActorID, Role: role}
	if _, err := c.Decide(ctx, d.ChainID, d.PartitionKey, d.StepID, decision, actor, d.Comment); err != nil {
		c.logger.Debug("bulk decision failed", "chain", d.ChainID, "step", d.StepID, "error", err)
		result.Error = err.Error()
		return result
	}

	result.Success = true
	return result
}
