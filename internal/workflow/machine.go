package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/procurekit/procurekit/internal/audit"
	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
)

// Notifier delivers transition notifications. Fire-and-forget: failures are
// logged and never fail the transition.
type Notifier interface {
	NotifyTransition(ctx context.Context, e *entity.Entity, from, to entity.Status, actor entity.Actor) error
}

// DocumentRenderer generates documents on publish-type transitions.
// Same contract as Notifier: failures never fail the transition.
type DocumentRenderer interface {
	RenderOnPublish(ctx context.Context, e *entity.Entity) error
}

// publishStatuses are the targets that trigger document rendering.
var publishStatuses = map[entity.Status]bool{
	"published": true,
	"awarded":   true,
}

// Machine executes status transitions against the compiled tables.
// All state is injected; Machine itself is stateless and safe for
// concurrent use.
type Machine struct {
	store    *store.Store
	recorder *audit.Recorder
	defs     Registry
	notifier Notifier
	renderer DocumentRenderer
	logger   *slog.Logger
	now      func() time.Time
}

// MachineOption configures optional collaborators.
type MachineOption func(*Machine)

// WithNotifier sets the transition notification dispatcher.
func WithNotifier(n Notifier) MachineOption {
	return func(m *Machine) { m.notifier = n }
}

// WithRenderer sets the publish-time document generator.
func WithRenderer(r DocumentRenderer) MachineOption {
	return func(m *Machine) { m.renderer = r }
}

// WithClock overrides the wall clock for deterministic tests.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a Machine over the given store, recorder, and
// compiled definitions.
func NewMachine(s *store.Store, rec *audit.Recorder, defs Registry, logger *slog.Logger, opts ...MachineOption) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		store:    s,
		recorder: rec,
		defs:     defs,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create inserts a new entity at its type's initial status and records the
// created audit entry. The caller supplies classification and body; status
// and lifecycle are owned here.
func (m *Machine) Create(ctx context.Context, e *entity.Entity, actor entity.Actor) (*entity.Entity, error) {
	def, err := m.defs.Definition(e.Type)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	e.Status = def.Initial
	e.Lifecycle = entity.Lifecycle{
		CurrentStage: def.Initial,
		Stages: []entity.StageRecord{{
			Stage:       def.Initial,
			CompletedAt: now,
			CompletedBy: actor.ID,
		}},
	}

	// The id is assigned here rather than in the store so the created
	// entry can be embedded before the insert.
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	entry, err := m.recorder.Prepare(ctx, e, "created", actor, map[string]string{
		"status": string(def.Initial),
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", e.Type, err)
	}

	if err := m.store.Create(ctx, e); err != nil {
		return nil, err
	}
	if err := m.recorder.Commit(ctx, e.Type, e.ID, entry); err != nil {
		return nil, fmt.Errorf("create %s: %w", e.Type, err)
	}

	return e, nil
}

// Transition moves an entity to the target status.
//
// Failure order: an edge absent from the table is INVALID_TRANSITION even
// if the actor also lacks the role; PERMISSION fires only for edges that
// exist. A terminal current status always fails - terminal statuses have no
// outgoing edges by construction.
//
// On success exactly one lifecycle stage and one audit entry are appended,
// and the version increments through the store's compare-and-replace path.
// A concurrent writer loses with CONFLICT and must re-read; the machine
// never merges.
func (m *Machine) Transition(ctx context.Context, id, partitionKey string, target entity.Status, actor entity.Actor, notes string) (*entity.Entity, error) {
	e, err := m.store.Get(ctx, id, partitionKey)
	if err != nil {
		return nil, err
	}

	def, err := m.defs.Definition(e.Type)
	if err != nil {
		return nil, err
	}

	from := e.Status
	minRole, ok := def.Edge(from, target)
	if !ok {
		return nil, entity.NewInvalidTransitionError(e.Type, e.ID, from, target)
	}
	if !actor.Role.AtLeast(minRole) {
		return nil, entity.NewPermissionError(actor, minRole, fmt.Sprintf("transition %s -> %s", from, target))
	}

	readVersion := e.Version
	now := m.now().UTC()
	e.Status = target
	e.Lifecycle.CurrentStage = target
	e.Lifecycle.Stages = append(e.Lifecycle.Stages, entity.StageRecord{
		Stage:       target,
		CompletedAt: now,
		CompletedBy: actor.ID,
		Notes:       notes,
	})
	m.refreshParentSnapshot(ctx, e, now)

	entry, err := m.recorder.Prepare(ctx, e, "status_changed", actor, map[string]string{
		"from": string(from),
		"to":   string(target),
	})
	if err != nil {
		return nil, fmt.Errorf("transition %s/%s: %w", e.Type, e.ID, err)
	}

	if err := m.store.Replace(ctx, e, readVersion); err != nil {
		return nil, err
	}
	if err := m.recorder.Commit(ctx, e.Type, e.ID, entry); err != nil {
		return nil, fmt.Errorf("transition %s/%s: %w", e.Type, e.ID, err)
	}

	m.dispatch(ctx, e, from, target, actor)
	return e, nil
}

// Override moves an entity to an arbitrary status, bypassing the
// transition table. Admin only - this is the one path out of a terminal
// status, and the audit entry marks it as an override.
func (m *Machine) Override(ctx context.Context, id, partitionKey string, target entity.Status, actor entity.Actor, reason string) (*entity.Entity, error) {
	if !actor.Role.AtLeast(entity.RoleAdmin) {
		return nil, entity.NewPermissionError(actor, entity.RoleAdmin, "administrative override")
	}
	if reason == "" {
		return nil, entity.NewValidationError("reason", "override requires a reason")
	}

	e, err := m.store.Get(ctx, id, partitionKey)
	if err != nil {
		return nil, err
	}

	from := e.Status
	readVersion := e.Version
	now := m.now().UTC()
	e.Status = target
	e.Lifecycle.CurrentStage = target
	e.Lifecycle.Stages = append(e.Lifecycle.Stages, entity.StageRecord{
		Stage:       target,
		CompletedAt: now,
		CompletedBy: actor.ID,
		Notes:       "override: " + reason,
	})

	entry, err := m.recorder.Prepare(ctx, e, "status_overridden", actor, map[string]string{
		"from":     string(from),
		"to":       string(target),
		"override": "true",
		"reason":   reason,
	})
	if err != nil {
		return nil, fmt.Errorf("override %s/%s: %w", e.Type, e.ID, err)
	}

	if err := m.store.Replace(ctx, e, readVersion); err != nil {
		return nil, err
	}
	if err := m.recorder.Commit(ctx, e.Type, e.ID, entry); err != nil {
		return nil, fmt.Errorf("override %s/%s: %w", e.Type, e.ID, err)
	}

	return e, nil
}

// Delete soft-deletes an entity by transitioning it to its type's
// deletion status over the normal table. Nothing is physically removed;
// the row and its full audit history stay readable. A terminal entity
// refuses with INVALID_TRANSITION like any other transition, and the
// edge's role requirement applies.
func (m *Machine) Delete(ctx context.Context, id, partitionKey string, actor entity.Actor, reason string) (*entity.Entity, error) {
	e, err := m.store.Get(ctx, id, partitionKey)
	if err != nil {
		return nil, err
	}
	def, err := m.defs.Definition(e.Type)
	if err != nil {
		return nil, err
	}
	return m.Transition(ctx, id, partitionKey, def.Deletion, actor, reason)
}

// refreshParentSnapshot re-embeds the cached projection of the parent on
// every write. Snapshots are read optimization only, so a parent lookup
// failure degrades to a stale (or absent) snapshot, never a failed write.
func (m *Machine) refreshParentSnapshot(ctx context.Context, e *entity.Entity, now time.Time) {
	if e.ParentID == "" {
		return
	}
	parent, err := m.store.GetByID(ctx, e.ParentID)
	if err != nil {
		m.logger.Debug("parent snapshot refresh skipped", "entity", e.ID, "parent", e.ParentID, "error", err)
		return
	}
	e.EmbedSnapshot(parent, string(parent.Type)+" "+string(parent.Status), now)
}

// dispatch fans out to the notifier and, for publish-type targets, the
// document renderer. Both are fire-and-forget.
func (m *Machine) dispatch(ctx context.Context, e *entity.Entity, from, to entity.Status, actor entity.Actor) {
	if m.notifier != nil {
		if err := m.notifier.NotifyTransition(ctx, e, from, to, actor); err != nil {
			m.logger.Warn("transition notification failed",
				"entity", e.ID, "from", from, "to", to, "error", err)
		}
	}
	if m.renderer != nil && publishStatuses[to] {
		if err := m.renderer.RenderOnPublish(ctx, e); err != nil {
			m.logger.Warn("publish document rendering failed",
				"entity", e.ID, "status", to, "error", err)
		}
	}
}
