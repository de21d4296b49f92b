package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/procurekit/procurekit/internal/entity"
)

// Page is one page of query results plus the unpaged total.
type Page struct {
	Items []*entity.Entity `json:"items"`
	Total int              `json:"total"`
}

// Get performs a direct point read by (id, partitionKey).
func (s *Store) Get(ctx context.Context, id, partitionKey string) (*entity.Entity, error) {
	start := s.now()
	e, err := s.get(ctx, id, partitionKey)
	s.observe("get", start, err)
	return e, err
}

func (s *Store) get(ctx context.Context, id, partitionKey string) (*entity.Entity, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM entities WHERE id = ? AND partition_key = ?`,
		id, partitionKey,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NewNotFoundError("", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return unmarshalEntity(body)
}

// GetByID resolves an entity without a partition hint. This is the slower
// cross-partition path and is logged as such - callers holding the
// partition key should use Get.
func (s *Store) GetByID(ctx context.Context, id string) (*entity.Entity, error) {
	start := s.now()
	e, err := s.getByID(ctx, id)
	s.observe("get_by_id", start, err)
	return e, err
}

func (s *Store) getByID(ctx context.Context, id string) (*entity.Entity, error) {
	s.logger.Warn("cross-partition read: no partition hint supplied", "id", id)

	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM entities WHERE id = ?`,
		id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NewNotFoundError("", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return unmarshalEntity(body)
}

// Query returns one page of entities matching the filter plus the total
// match count. Pages are 1-based. Results are ordered by (created_at, id)
// so pagination is deterministic.
func (s *Store) Query(ctx context.Context, f Filter, page, pageSize int) (*Page, error) {
	start := s.now()
	p, err := s.query(ctx, f, page, pageSize)
	s.observe("query", start, err)
	return p, err
}

func (s *Store) query(ctx context.Context, f Filter, page, pageSize int) (*Page, error) {
	if page < 1 {
		return nil, entity.NewValidationError("page", fmt.Sprintf("page must be >= 1, got %d", page))
	}
	if pageSize < 1 || pageSize > 500 {
		return nil, entity.NewValidationError("pageSize", fmt.Sprintf("pageSize must be 1..500, got %d", pageSize))
	}

	where, params := f.compile()
	whereClause := ""
	if where != "" {
		whereClause = " WHERE " + where
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities"+whereClause, params...).Scan(&total); err != nil {
		return nil, fmt.Errorf("query: count: %w", err)
	}

	// Deterministic ordering with id tiebreaker - same filter, same page,
	// same rows.
	rows, err := s.db.QueryContext(ctx,
		"SELECT body FROM entities"+whereClause+" ORDER BY created_at, id LIMIT ? OFFSET ?",
		append(params, pageSize, (page-1)*pageSize)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	result := &Page{Total: total, Items: make([]*entity.Entity, 0, pageSize)}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		e, err := unmarshalEntity(body)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: rows: %w", err)
	}

	return result, nil
}

// AuditHistory returns the complete chronological history for an audit
// partition, independent of the bounded trail embedded on the entity.
func (s *Store) AuditHistory(ctx context.Context, partition string) ([]entity.AuditEntry, error) {
	start := s.now()
	entries, err := s.auditHistory(ctx, partition)
	s.observe("audit_history", start, err)
	return entries, err
}

func (s *Store) auditHistory(ctx context.Context, partition string) ([]entity.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, action, actor, timestamp, details, fingerprint
		FROM audit_log
		WHERE partition = ?
		ORDER BY seq
	`, partition)
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}
	defer rows.Close()

	var entries []entity.AuditEntry
	for rows.Next() {
		var (
			entry   entity.AuditEntry
			ts      string
			details string
		)
		if err := rows.Scan(&entry.Seq, &entry.Action, &entry.Actor, &ts, &details, &entry.Fingerprint); err != nil {
			return nil, fmt.Errorf("audit history: scan: %w", err)
		}
		entry.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("audit history: parse timestamp: %w", err)
		}
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &entry.Details); err != nil {
				return nil, fmt.Errorf("audit history: parse details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit history: rows: %w", err)
	}

	return entries, nil
}

func unmarshalEntity(body string) (*entity.Entity, error) {
	var e entity.Entity
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("unmarshal entity: %w", err)
	}
	return &e, nil
}
