// Package testutil provides deterministic clocks, throwaway stores and
// entity fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/procurekit/procurekit/internal/entity"
	"github.com/procurekit/procurekit/internal/store"
)

// NewTestStore opens a store in a per-test temp directory and closes it
// when the test finishes.
func NewTestStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// NewRFQ builds an unsaved RFQ fixture with sensible defaults.
func NewRFQ(department string, amountCents int64) *entity.Entity {
	return &entity.Entity{
		Type:        entity.TypeRFQ,
		Status:      "draft",
		AmountCents: amountCents,
		Metadata:    entity.Metadata{Department: department, Category: "general"},
		Body:        []byte(`{}`),
	}
}

// NewSubmission builds an unsaved submission fixture parented to an RFQ.
func NewSubmission(rfqID, department string, amountCents int64) *entity.Entity {
	return &entity.Entity{
		Type:        entity.TypeSubmission,
		Status:      "submitted",
		ParentID:    rfqID,
		AmountCents: amountCents,
		Metadata:    entity.Metadata{Department: department},
		Body:        []byte(`{}`),
	}
}

// MustCreate persists an entity or fails the test.
func MustCreate(t *testing.T, s *store.Store, e *entity.Entity) *entity.Entity {
	t.Helper()
	if err := s.Create(context.Background(), e); err != nil {
		t.Fatalf("create fixture %s: %v", e.Type, err)
	}
	return e
}
