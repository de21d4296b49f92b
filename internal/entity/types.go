package entity

import (
	"fmt"
	"strings"
	"time"
)

// Type discriminates the entity collections sharing the common envelope.
type Type string

const (
	TypeProcurement   Type = "procurement"
	TypeRFQ           Type = "rfq"
	TypeSubmission    Type = "submission"
	TypeEvaluation    Type = "evaluation"
	TypeApproval      Type = "approval"
	TypeAward         Type = "award"
	TypeContract      Type = "contract"
	TypePlan          Type = "plan"
	TypeClarification Type = "clarification"
	TypeTemplate      Type = "template"
)

// Types lists every entity type with a workflow definition.
// Order is stable for deterministic iteration.
var Types = []Type{
	TypeProcurement, TypeRFQ, TypeSubmission, TypeEvaluation, TypeApproval,
	TypeAward, TypeContract, TypePlan, TypeClarification, TypeTemplate,
}

// Valid reports whether t names a known entity type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Status is an entity lifecycle state. The legal values and transitions for
// each entity type come from the compiled workflow definitions; entity does
// not restrict them beyond being non-empty.
type Status string

// Role is an actor permission level. Levels are strictly ordered: an edge
// requiring RoleApprover is satisfied by RoleApprover and RoleAdmin.
type Role int

const (
	RoleViewer Role = iota + 1
	RoleRequester
	RoleEvaluator
	RoleApprover
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleViewer:    "viewer",
	RoleRequester: "requester",
	RoleEvaluator: "evaluator",
	RoleApprover:  "approver",
	RoleAdmin:     "admin",
}

// String returns the lowercase role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole maps a role name to its level.
func ParseRole(name string) (Role, error) {
	for r, n := range roleNames {
		if n == name {
			return r, nil
		}
	}
	return 0, NewValidationError("role", fmt.Sprintf("unknown role %q", name))
}

// AtLeast reports whether r satisfies the required level.
func (r Role) AtLeast(required Role) bool {
	return r >= required
}

// Actor identifies who performed an operation. Identity resolution happens
// upstream; callers pass the resolved id and role in.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// StageRecord is one completed step of an entity's lifecycle.
type StageRecord struct {
	Stage       Status    `json:"stage"`
	CompletedAt time.Time `json:"completedAt"`
	CompletedBy string    `json:"completedBy"`
	Notes       string    `json:"notes,omitempty"`
}

// Lifecycle tracks the ordered stage history of an entity.
type Lifecycle struct {
	CurrentStage Status        `json:"currentStage"`
	Stages       []StageRecord `json:"stages"`
}

// Metadata holds the indexed classification fields shared by all entities.
type Metadata struct {
	Department   string    `json:"department,omitempty"`
	Category     string    `json:"category,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
}

// AuditEntry is one append-only record of a change. Details values are
// strings so the fingerprint input stays canonical (no floats, no null).
type AuditEntry struct {
	Seq         int64             `json:"seq"`
	Action      string            `json:"action"`
	Actor       string            `json:"actor"`
	Timestamp   time.Time         `json:"timestamp"`
	Details     map[string]string `json:"details,omitempty"`
	Fingerprint string            `json:"fingerprint"`
}

// Snapshot is a denormalized copy of a directly related entity, embedded for
// read efficiency. Snapshots are cached projections: re-embedded on the next
// write of the owning entity, never assumed fresh by readers.
type Snapshot struct {
	EntityID   string    `json:"entityId"`
	EntityType Type      `json:"entityType"`
	Status     Status    `json:"status"`
	Summary    string    `json:"summary,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// MaxEmbeddedAudit bounds the audit entries carried on the entity itself.
// The full history lives in the separate audit log and never truncates.
const MaxEmbeddedAudit = 20

// Entity is the common document envelope. Body carries the type-specific
// payload as raw JSON; the envelope fields are what the store indexes.
type Entity struct {
	ID           string              `json:"id"`
	Type         Type                `json:"entityType"`
	PartitionKey string              `json:"partitionKey"`
	Version      int64               `json:"version"`
	Status       Status              `json:"status"`
	Lifecycle    Lifecycle           `json:"lifecycle"`
	Metadata     Metadata            `json:"metadata"`
	Snapshots    map[string]Snapshot `json:"snapshots,omitempty"`
	AuditTrail   []AuditEntry        `json:"auditTrail,omitempty"`

	// ParentID and AmountCents are promoted out of Body because every
	// entity type carries them and the store indexes them. Money is
	// integer cents; floats never touch stored amounts.
	ParentID    string `json:"parentId,omitempty"`
	AmountCents int64  `json:"amountCents,omitempty"`

	Body      []byte    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PartitionKey composes the deterministic partition key from the two
// correlated immutable attributes of an entity: its parent id and a
// secondary dimension (department for root entities, the RFQ id for
// children). Pure function - never recomputed after creation.
func PartitionKey(parentID, dimension string) string {
	return parentID + "|" + dimension
}

// AuditPartition keys the standalone audit log collection.
func AuditPartition(t Type, id string) string {
	return string(t) + "|" + id
}

// SplitPartitionKey returns the two components of a composite key.
func SplitPartitionKey(pk string) (parentID, dimension string, err error) {
	parts := strings.SplitN(pk, "|", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", NewValidationError("partitionKey", fmt.Sprintf("malformed partition key %q", pk))
	}
	return parts[0], parts[1], nil
}

// Terminal statuses used across entity types. The authoritative terminal
// sets come from the compiled workflow definitions; these constants just
// name the conventional soft-delete target.
const (
	StatusCancelled Status = "cancelled"
	StatusDeleted   Status = "deleted"
)

// Validate checks the envelope invariants that hold for every entity type.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return NewValidationError("id", "id is required")
	}
	if !e.Type.Valid() {
		return NewValidationError("entityType", fmt.Sprintf("unknown entity type %q", e.Type))
	}
	if e.PartitionKey == "" {
		return NewValidationError("partitionKey", "partition key is required")
	}
	if _, _, err := SplitPartitionKey(e.PartitionKey); err != nil {
		return err
	}
	if e.Version < 1 {
		return NewValidationError("version", fmt.Sprintf("version must be >= 1, got %d", e.Version))
	}
	if e.Status == "" {
		return NewValidationError("status", "status is required")
	}
	return nil
}

// EmbedAudit appends an entry to the embedded trail, truncating from the
// front once MaxEmbeddedAudit is exceeded. The embedded trail is a bounded
// window; truncation here never touches the separate log.
func (e *Entity) EmbedAudit(entry AuditEntry) {
	e.AuditTrail = append(e.AuditTrail, entry)
	if len(e.AuditTrail) > MaxEmbeddedAudit {
		e.AuditTrail = e.AuditTrail[len(e.AuditTrail)-MaxEmbeddedAudit:]
	}
}

// EmbedSnapshot records a cached projection of a related entity.
func (e *Entity) EmbedSnapshot(related *Entity, summary string, now time.Time) {
	if e.Snapshots == nil {
		e.Snapshots = make(map[string]Snapshot, 1)
	}
	e.Snapshots[related.ID] = Snapshot{
		EntityID:   related.ID,
		EntityType: related.Type,
		Status:     related.Status,
		Summary:    summary,
		CapturedAt: now,
	}
}
