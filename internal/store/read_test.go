package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/procurekit/procurekit/internal/entity"
)

func seedEntities(t *testing.T, s *Store, n int) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		i := i
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		e := newTestRFQ(fmt.Sprintf("rfq-%03d", i))
		if i%2 == 1 {
			e.Status = "published"
			e.Metadata.Department = "finance"
		}
		if err := s.Create(ctx, e); err != nil {
			t.Fatalf("Create(%d) failed: %v", i, err)
		}
	}
	s.now = time.Now
}

func TestGet_PointRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := newTestRFQ("rfq-1")
	if err := s.Create(ctx, e); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	got, err := s.Get(ctx, "rfq-1", e.PartitionKey)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.ID != "rfq-1" || got.Type != entity.TypeRFQ {
		t.Errorf("got %s/%s, expected rfq/rfq-1", got.Type, got.ID)
	}
}

func TestGet_WrongPartitionIsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := newTestRFQ("rfq-1")
	if err := s.Create(ctx, e); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	_, err := s.Get(ctx, "rfq-1", entity.PartitionKey("proc-other", "goods"))
	if !entity.IsNotFound(err) {
		t.Fatalf("Get() = %v, expected NOT_FOUND", err)
	}
}

func TestGetByID_CrossPartition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := newTestRFQ("rfq-1")
	if err := s.Create(ctx, e); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	got, err := s.GetByID(ctx, "rfq-1")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.PartitionKey != e.PartitionKey {
		t.Errorf("partition key = %q, expected %q", got.PartitionKey, e.PartitionKey)
	}

	if _, err := s.GetByID(ctx, "nope"); !entity.IsNotFound(err) {
		t.Fatalf("GetByID(missing) = %v, expected NOT_FOUND", err)
	}
}

func TestQuery_ConjunctiveFilters(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s, 10)

	page, err := s.Query(context.Background(), Filter{
		Types:      []entity.Type{entity.TypeRFQ},
		Statuses:   []entity.Status{"published"},
		Department: "finance",
	}, 1, 50)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("total = %d, expected 5", page.Total)
	}
	for _, e := range page.Items {
		if e.Status != "published" || e.Metadata.Department != "finance" {
			t.Errorf("filter leaked entity %s (%s/%s)", e.ID, e.Status, e.Metadata.Department)
		}
	}
}

func TestQuery_Pagination(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s, 10)
	ctx := context.Background()

	p1, err := s.Query(ctx, Filter{}, 1, 4)
	if err != nil {
		t.Fatalf("Query(page 1) failed: %v", err)
	}
	p2, err := s.Query(ctx, Filter{}, 2, 4)
	if err != nil {
		t.Fatalf("Query(page 2) failed: %v", err)
	}
	p3, err := s.Query(ctx, Filter{}, 3, 4)
	if err != nil {
		t.Fatalf("Query(page 3) failed: %v", err)
	}

	if p1.Total != 10 || p2.Total != 10 {
		t.Errorf("totals = %d/%d, expected 10", p1.Total, p2.Total)
	}
	if len(p1.Items) != 4 || len(p2.Items) != 4 || len(p3.Items) != 2 {
		t.Errorf("page sizes = %d/%d/%d, expected 4/4/2", len(p1.Items), len(p2.Items), len(p3.Items))
	}

	// Deterministic order: no overlap between pages.
	seen := map[string]bool{}
	for _, p := range []*Page{p1, p2, p3} {
		for _, e := range p.Items {
			if seen[e.ID] {
				t.Errorf("entity %s appeared on two pages", e.ID)
			}
			seen[e.ID] = true
		}
	}
}

func TestQuery_DateRange(t *testing.T) {
	s := newTestStore(t)
	seedEntities(t, s, 10)

	from := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	page, err := s.Query(context.Background(), Filter{CreatedFrom: from, CreatedTo: to}, 1, 50)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if page.Total != 4 {
		t.Errorf("total = %d, expected 4 (half-open range)", page.Total)
	}
}

func TestQuery_DateRangeSubSecondBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// .5s and .52s only differ after the first fraction digit; both must
	// land inside a range starting at .5s.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	created := []time.Duration{500 * time.Millisecond, 520 * time.Millisecond}
	for i, offset := range created {
		offset := offset
		s.now = func() time.Time { return base.Add(offset) }
		if err := s.Create(ctx, newTestRFQ(fmt.Sprintf("rfq-%d", i))); err != nil {
			t.Fatalf("Create(%d) failed: %v", i, err)
		}
	}
	s.now = time.Now

	page, err := s.Query(ctx, Filter{CreatedFrom: base.Add(500 * time.Millisecond)}, 1, 50)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("total = %d, expected 2", page.Total)
	}

	// Half-open upper bound excludes the later row.
	page, err = s.Query(ctx, Filter{CreatedTo: base.Add(520 * time.Millisecond)}, 1, 50)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("total = %d, expected 1", page.Total)
	}
}

func TestQuery_OrderingAcrossSubSecondTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base.Add(500 * time.Millisecond) }
	if err := s.Create(ctx, newTestRFQ("rfq-early")); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	s.now = func() time.Time { return base.Add(520 * time.Millisecond) }
	if err := s.Create(ctx, newTestRFQ("rfq-late")); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	s.now = time.Now

	page, err := s.Query(ctx, Filter{}, 1, 50)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "rfq-early" || page.Items[1].ID != "rfq-late" {
		ids := make([]string, 0, len(page.Items))
		for _, e := range page.Items {
			ids = append(ids, e.ID)
		}
		t.Errorf("order = %v, expected [rfq-early rfq-late]", ids)
	}
}

func TestQuery_RejectsBadPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Query(ctx, Filter{}, 0, 10); !entity.IsValidation(err) {
		t.Errorf("Query(page=0) = %v, expected VALIDATION", err)
	}
	if _, err := s.Query(ctx, Filter{}, 1, 0); !entity.IsValidation(err) {
		t.Errorf("Query(pageSize=0) = %v, expected VALIDATION", err)
	}
	if _, err := s.Query(ctx, Filter{}, 1, 10_000); !entity.IsValidation(err) {
		t.Errorf("Query(pageSize=10000) = %v, expected VALIDATION", err)
	}
}

func TestAuditHistory_ChronologicalAndComplete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	partition := entity.AuditPartition(entity.TypeRFQ, "rfq-1")
	ts := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 30; i++ {
		err := s.AppendAudit(ctx, partition, entity.AuditEntry{
			Seq:         int64(i),
			Action:      "status_changed",
			Actor:       "u-1",
			Timestamp:   ts.Add(time.Duration(i) * time.Minute),
			Details:     map[string]string{"step": fmt.Sprintf("%d", i)},
			Fingerprint: fmt.Sprintf("fp-%d", i),
		})
		if err != nil {
			t.Fatalf("AppendAudit(%d) failed: %v", i, err)
		}
	}

	history, err := s.AuditHistory(ctx, partition)
	if err != nil {
		t.Fatalf("AuditHistory() failed: %v", err)
	}
	// Full history exceeds the embedded trail bound - the log never truncates.
	if len(history) != 30 {
		t.Fatalf("history length = %d, expected 30", len(history))
	}
	for i, entry := range history {
		if entry.Seq != int64(i+1) {
			t.Errorf("history[%d].Seq = %d, expected %d", i, entry.Seq, i+1)
		}
	}
}
