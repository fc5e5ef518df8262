package generate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists generated test cases in PostgreSQL.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Insert persists a generation run's cases in one transaction.
func (s *Store) Insert(ctx context.Context, cases []*Case) error {
	if len(cases) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range cases {
		var steps []byte
		if c.Steps != nil {
			if steps, err = json.Marshal(c.Steps); err != nil {
				return fmt.Errorf("encoding steps: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO generated_test_cases (
				id, work_item_id, created_by, title, description, steps,
				expected_result, priority, test_type, status, created_at, updated_at
			) VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			c.ID, c.WorkItemID, c.CreatedBy, c.Title, c.Description, steps,
			c.ExpectedResult, c.Priority, c.TestType, c.Status, c.CreatedAt, c.UpdatedAt,
		); err != nil {
			return fmt.Errorf("inserting case %q: %w", c.Title, err)
		}
	}

	return tx.Commit(ctx)
}

// ListByWorkItem returns a work item's generated cases, oldest first.
func (s *Store) ListByWorkItem(ctx context.Context, workItemID string) ([]*Case, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, work_item_id, COALESCE(created_by::text, ''), title,
		       COALESCE(description, ''), steps, COALESCE(expected_result, ''),
		       priority, test_type, status, created_at, updated_at
		FROM generated_test_cases
		WHERE work_item_id = $1
		ORDER BY created_at, id`,
		workItemID)
	if err != nil {
		return nil, fmt.Errorf("listing cases for %s: %w", workItemID, err)
	}
	defer rows.Close()

	var cases []*Case
	for rows.Next() {
		var (
			c     Case
			steps []byte
		)
		if err := rows.Scan(
			&c.ID, &c.WorkItemID, &c.CreatedBy, &c.Title,
			&c.Description, &steps, &c.ExpectedResult,
			&c.Priority, &c.TestType, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning case: %w", err)
		}
		if len(steps) > 0 {
			if err := json.Unmarshal(steps, &c.Steps); err != nil {
				return nil, fmt.Errorf("decoding steps: %w", err)
			}
		}
		cases = append(cases, &c)
	}
	return cases, rows.Err()
}

// HasCases reports whether any cases exist for a work item.
func (s *Store) HasCases(ctx context.Context, workItemID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM generated_test_cases WHERE work_item_id = $1)`,
		workItemID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking cases for %s: %w", workItemID, err)
	}
	return exists, nil
}
