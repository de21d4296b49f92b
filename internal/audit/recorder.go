// Package audit records the append-only change history of procurement
// entities. Each record carries an integrity fingerprint over its canonical
// form; Verify recomputes the fingerprints to detect tampering.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
)

// Recorder appends audit entries for entity mutations. Two copies are kept:
// a bounded recent window embedded on the entity itself, and the full
// record in the standalone audit log partitioned by {entityType}|{entityId}.
// The embedded window may truncate; the log never does. Prepare before the
// entity write, Commit after - the embedded copy is then never behind the
// persisted envelope.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(s *store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, logger: logger, now: time.Now}
}

// WithClock overrides the wall clock for deterministic tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Prepare builds an immutable audit record for an action on the entity,
// fingerprints it, and embeds it in the entity's bounded trail. The entity
// must already carry its id - the audit partition is derived from it.
//
// The caller persists the entity, then calls Commit so the embedded copy
// lands in the same versioned write as the mutation it describes. A
// re-read immediately after the write already sees the entry.
func (r *Recorder) Prepare(ctx context.Context, e *entity.Entity, action string, actor entity.Actor, details map[string]string) (entity.AuditEntry, error) {
	if e.ID == "" {
		return entity.AuditEntry{}, entity.NewValidationError("id", "entity id required before audit")
	}
	partition := entity.AuditPartition(e.Type, e.ID)

	seq, err := r.store.NextAuditSeq(ctx, partition)
	if err != nil {
		return entity.AuditEntry{}, fmt.Errorf("audit prepare: %w", err)
	}

	entry := entity.AuditEntry{
		Seq:       seq,
		Action:    action,
		Actor:     actor.ID,
		Timestamp: r.now().UTC(),
		Details:   details,
	}

	entry.Fingerprint, err = entity.AuditFingerprint(e.Type, e.ID, entry)
	if err != nil {
		return entity.AuditEntry{}, fmt.Errorf("audit prepare: %w", err)
	}

	e.EmbedAudit(entry)
	return entry, nil
}

// Commit writes a prepared entry to the standalone log, after the entity
// write carrying the embedded copy has landed. A failed entity write must
// not be committed - the seq is simply reissued on the next Prepare.
func (r *Recorder) Commit(ctx context.Context, t entity.Type, entityID string, entry entity.AuditEntry) error {
	if err := r.store.AppendAudit(ctx, entity.AuditPartition(t, entityID), entry); err != nil {
		return fmt.Errorf("audit commit: %w", err)
	}
	return nil
}

// History returns the complete chronological history for an entity from
// the standalone log, independent of embedded truncation.
func (r *Recorder) History(ctx context.Context, t entity.Type, entityID string) ([]entity.AuditEntry, error) {
	entries, err := r.store.AuditHistory(ctx, entity.AuditPartition(t, entityID))
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}
	return entries, nil
}

// Verify recomputes the fingerprint of every entry in an entity's history
// and checks the sequence is gapless from 1. Any mismatch is an INTEGRITY
// error - fatal, never auto-recovered.
func (r *Recorder) Verify(ctx context.Context, t entity.Type, entityID string) error {
	entries, err := r.History(ctx, t, entityID)
	if err != nil {
		return err
	}

	for i, entry := range entries {
		if entry.Seq != int64(i+1) {
			r.logger.Error("audit sequence gap detected",
				"entityType", t, "entityId", entityID, "expected", i+1, "found", entry.Seq)
			return entity.NewIntegrityError(t, entityID, entry.Seq)
		}

		want, err := entity.AuditFingerprint(t, entityID, entry)
		if err != nil {
			return fmt.Errorf("audit verify: %w", err)
		}
		if want != entry.Fingerprint {
			r.logger.Error("audit fingerprint mismatch",
				"entityType", t, "entityId", entityID, "seq", entry.Seq)
			return entity.NewIntegrityError(t, entityID, entry.Seq)
		}
	}

	return nil
}
