package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/procurekit/procurekit/internal/entity"
)

// timeColumn is the fixed-width layout for the TEXT timestamp columns.
// Range predicates compare these columns lexicographically, so every
// stored value must have the same width; RFC3339Nano trims trailing
// fraction zeros and "00.5Z" would sort after "00.52Z".
const timeColumn = "2006-01-02T15:04:05.000000000Z"

// Create inserts a new entity. A blank ID gets a generated uuid and a blank
// partition key is composed from the parent id and department. Version is
// forced to 1 regardless of input.
//
// Fails with CONFLICT if the id already exists - creation is never an
// upsert.
func (s *Store) Create(ctx context.Context, e *entity.Entity) error {
	start := s.now()
	err := s.withRetry(ctx, "create", func() error { return s.create(ctx, e) })
	s.observe("create", start, err)
	return err
}

func (s *Store) create(ctx context.Context, e *entity.Entity) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.PartitionKey == "" {
		e.PartitionKey = defaultPartitionKey(e)
	}
	e.Version = 1
	now := s.now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Metadata.LastActivity = now

	if err := e.Validate(); err != nil {
		return err
	}

	body, err := marshalEntity(e)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities
		(id, entity_type, partition_key, version, status, department, category, parent_id, amount_cents, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.Type),
		e.PartitionKey,
		e.Version,
		string(e.Status),
		e.Metadata.Department,
		e.Metadata.Category,
		e.ParentID,
		e.AmountCents,
		body,
		now.Format(timeColumn),
		now.Format(timeColumn),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return &entity.Error{
				Code:       entity.ErrCodeConflict,
				Message:    "id already exists",
				EntityID:   e.ID,
				EntityType: e.Type,
			}
		}
		return fmt.Errorf("create: %w", err)
	}

	return nil
}

// Replace writes the entity via compare-and-replace against expectVersion.
// On success the entity's version is expectVersion+1. On mismatch the
// caller gets CONFLICT and must re-read and retry - there is no automatic
// merge.
func (s *Store) Replace(ctx context.Context, e *entity.Entity, expectVersion int64) error {
	start := s.now()
	err := s.withRetry(ctx, "replace", func() error { return s.replace(ctx, e, expectVersion) })
	s.observe("replace", start, err)
	return err
}

func (s *Store) replace(ctx context.Context, e *entity.Entity, expectVersion int64) error {
	now := s.now().UTC()

	// Marshal a copy with the bumped version; the caller's entity is only
	// touched after the write is known to have landed.
	next := *e
	next.Version = expectVersion + 1
	next.UpdatedAt = now
	next.Metadata.LastActivity = now

	if err := next.Validate(); err != nil {
		return err
	}

	body, err := marshalEntity(&next)
	if err != nil {
		return fmt.Errorf("replace: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET version = ?, status = ?, department = ?, category = ?, parent_id = ?, amount_cents = ?, body = ?, updated_at = ?
		WHERE id = ? AND partition_key = ? AND version = ?
	`,
		next.Version,
		string(next.Status),
		next.Metadata.Department,
		next.Metadata.Category,
		next.ParentID,
		next.AmountCents,
		body,
		now.Format(timeColumn),
		e.ID,
		e.PartitionKey,
		expectVersion,
	)
	if err != nil {
		return fmt.Errorf("replace: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace: rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from a version race.
		var actual int64
		scanErr := s.db.QueryRowContext(ctx,
			`SELECT version FROM entities WHERE id = ? AND partition_key = ?`,
			e.ID, e.PartitionKey,
		).Scan(&actual)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return entity.NewNotFoundError(e.Type, e.ID)
		}
		if scanErr != nil {
			return fmt.Errorf("replace: check version: %w", scanErr)
		}
		return entity.NewConflictError(e.Type, e.ID, expectVersion, actual)
	}

	e.Version = next.Version
	e.UpdatedAt = next.UpdatedAt
	e.Metadata.LastActivity = next.Metadata.LastActivity
	return nil
}

// Update loads the current entity, applies the mutator, and writes the
// result keyed on the version that was read. The mutator must not touch
// ID, Type, PartitionKey, or Version; those are envelope invariants.
func (s *Store) Update(ctx context.Context, id, partitionKey string, mutator func(*entity.Entity) error) (*entity.Entity, error) {
	e, err := s.Get(ctx, id, partitionKey)
	if err != nil {
		return nil, err
	}

	readVersion := e.Version
	if err := mutator(e); err != nil {
		return nil, err
	}
	if e.ID != id || e.PartitionKey != partitionKey {
		return nil, entity.NewValidationError("mutator", "mutator must not change id or partition key")
	}

	if err := s.Replace(ctx, e, readVersion); err != nil {
		return nil, err
	}
	return e, nil
}

// NextAuditSeq returns the next sequence number for an audit partition.
// The caller fingerprints the entry with this seq before appending; the
// UNIQUE(partition, seq) constraint catches any lost race.
func (s *Store) NextAuditSeq(ctx context.Context, partition string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_log WHERE partition = ?`,
		partition,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next audit seq: %w", err)
	}
	return seq, nil
}

// AppendAudit appends one entry to an audit partition. Append-only: there
// is no update or delete path for this table anywhere in the codebase.
func (s *Store) AppendAudit(ctx context.Context, partition string, entry entity.AuditEntry) error {
	start := s.now()
	err := s.withRetry(ctx, "append_audit", func() error { return s.appendAudit(ctx, partition, entry) })
	s.observe("append_audit", start, err)
	return err
}

func (s *Store) appendAudit(ctx context.Context, partition string, entry entity.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("append audit: marshal details: %w", err)
	}
	if entry.Details == nil {
		details = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (partition, seq, action, actor, timestamp, details, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		partition,
		entry.Seq,
		entry.Action,
		entry.Actor,
		entry.Timestamp.UTC().Format(timeColumn),
		string(details),
		entry.Fingerprint,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return &entity.Error{
				Code:    entity.ErrCodeConflict,
				Message: fmt.Sprintf("audit seq %d already written for partition %s", entry.Seq, partition),
			}
		}
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// defaultPartitionKey composes the partition key from the entity's two
// correlated immutable attributes. Root entities (no parent) partition
// under their own id.
func defaultPartitionKey(e *entity.Entity) string {
	parent := e.ParentID
	if parent == "" {
		parent = e.ID
	}
	dimension := e.Metadata.Department
	if dimension == "" {
		dimension = string(e.Type)
	}
	return entity.PartitionKey(parent, dimension)
}

func marshalEntity(e *entity.Entity) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal entity: %w", err)
	}
	return string(data), nil
}

func isDuplicateKey(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrConstraint
	}
	return false
}
