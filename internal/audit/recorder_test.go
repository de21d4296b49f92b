package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
	"github.com/procurekit/procurekit/internal/testutil"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.Store) {
	t.Helper()
	s := testutil.NewTestStore(t)

	clock := testutil.NewDeterministicClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), time.Second)
	rec := NewRecorder(s, nil).WithClock(clock.Now)
	return rec, s
}

func createRFQ(t *testing.T, s *store.Store, id string) *entity.Entity {
	t.Helper()
	e := &entity.Entity{
		ID:           id,
		Type:         entity.TypeRFQ,
		PartitionKey: entity.PartitionKey("proc-1", "goods"),
		Status:       "draft",
		ParentID:     "proc-1",
		Lifecycle:    entity.Lifecycle{CurrentStage: "draft"},
	}
	require.NoError(t, s.Create(context.Background(), e))
	return e
}

// record prepares and commits one entry, the way mutation paths do around
// their entity write.
func record(t *testing.T, rec *Recorder, e *entity.Entity, action string, details map[string]string) entity.AuditEntry {
	t.Helper()
	ctx := context.Background()
	entry, err := rec.Prepare(ctx, e, action, entity.Actor{ID: "u-1"}, details)
	require.NoError(t, err)
	require.NoError(t, rec.Commit(ctx, e.Type, e.ID, entry))
	return entry
}

func TestPrepareAssignsSeqAndFingerprint(t *testing.T) {
	rec, s := newTestRecorder(t)
	ctx := context.Background()
	e := createRFQ(t, s, "rfq-1")

	entry, err := rec.Prepare(ctx, e, "created", entity.Actor{ID: "u-1", Role: entity.RoleRequester}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), entry.Seq)
	assert.Len(t, entry.Fingerprint, 64)
	require.Len(t, e.AuditTrail, 1, "the entry is embedded before the log write")
	assert.Equal(t, entry, e.AuditTrail[0])

	require.NoError(t, rec.Commit(ctx, e.Type, e.ID, entry))

	second := record(t, rec, e, "status_changed", map[string]string{"to": "published"})
	assert.Equal(t, int64(2), second.Seq)
}

func TestPrepareRequiresEntityID(t *testing.T) {
	rec, _ := newTestRecorder(t)

	_, err := rec.Prepare(context.Background(), &entity.Entity{Type: entity.TypeRFQ}, "created", entity.Actor{ID: "u-1"}, nil)
	assert.True(t, entity.IsValidation(err), "expected VALIDATION, got %v", err)
}

func TestUncommittedEntryLeavesNoLogRow(t *testing.T) {
	rec, s := newTestRecorder(t)
	ctx := context.Background()
	e := createRFQ(t, s, "rfq-1")

	_, err := rec.Prepare(ctx, e, "created", entity.Actor{ID: "u-1"}, nil)
	require.NoError(t, err)

	history, err := rec.History(ctx, entity.TypeRFQ, "rfq-1")
	require.NoError(t, err)
	assert.Empty(t, history, "the log row is written only on commit")
}

func TestHistoryOutlivesEmbeddedTruncation(t *testing.T) {
	rec, s := newTestRecorder(t)
	ctx := context.Background()
	e := createRFQ(t, s, "rfq-1")

	total := entity.MaxEmbeddedAudit + 10
	for i := 0; i < total; i++ {
		record(t, rec, e, "touched", map[string]string{"i": fmt.Sprintf("%d", i)})
	}

	assert.Len(t, e.AuditTrail, entity.MaxEmbeddedAudit, "embedded trail is a bounded window")

	history, err := rec.History(ctx, entity.TypeRFQ, "rfq-1")
	require.NoError(t, err)
	assert.Len(t, history, total, "the log never truncates")
}

func TestHistoryNonDecreasingAcrossOperations(t *testing.T) {
	rec, s := newTestRecorder(t)
	ctx := context.Background()
	e := createRFQ(t, s, "rfq-1")

	prev := 0
	for i := 0; i < 5; i++ {
		record(t, rec, e, "touched", nil)

		history, err := rec.History(ctx, entity.TypeRFQ, "rfq-1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(history), prev, "audit history must never shrink")
		prev = len(history)
	}
}

func TestVerifyCleanHistory(t *testing.T) {
	rec, s := newTestRecorder(t)
	ctx := context.Background()
	e := createRFQ(t, s, "rfq-1")

	for i := 0; i < 5; i++ {
		record(t, rec, e, "touched", map[string]string{"i": fmt.Sprintf("%d", i)})
	}

	require.NoError(t, rec.Verify(ctx, entity.TypeRFQ, "rfq-1"))
}

func TestVerifyDetectsTampering(t *testing.T) {
	rec, s := newTestRecorder(t)
	ctx := context.Background()
	e := createRFQ(t, s, "rfq-1")

	record(t, rec, e, "created", map[string]string{"amount": "100"})

	// Tamper with the stored record behind the recorder's back.
	_, err := s.DB().Exec(
		`UPDATE audit_log SET actor = 'u-evil' WHERE partition = ?`,
		entity.AuditPartition(entity.TypeRFQ, "rfq-1"),
	)
	require.NoError(t, err)

	err = rec.Verify(ctx, entity.TypeRFQ, "rfq-1")
	assert.True(t, entity.IsIntegrity(err), "expected INTEGRITY, got %v", err)
}

func TestVerifyDetectsSequenceGap(t *testing.T) {
	rec, s := newTestRecorder(t)
	ctx := context.Background()
	e := createRFQ(t, s, "rfq-1")

	for i := 0; i < 3; i++ {
		record(t, rec, e, "touched", nil)
	}

	// A deleted row is a gap, and gaps are tampering.
	_, err := s.DB().Exec(
		`DELETE FROM audit_log WHERE partition = ? AND seq = 2`,
		entity.AuditPartition(entity.TypeRFQ, "rfq-1"),
	)
	require.NoError(t, err)

	err = rec.Verify(ctx, entity.TypeRFQ, "rfq-1")
	assert.True(t, entity.IsIntegrity(err), "expected INTEGRITY, got %v", err)
}
