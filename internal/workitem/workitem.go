// Package workitem reads the work item hierarchy (epics, stories, tasks)
// that knowledge entries and generated test cases attach to.
package workitem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound indicates the requested work item does not exist.
var ErrNotFound = errors.New("work item not found")

// Item is one node in the work item hierarchy.
type Item struct {
	ID             string
	OrganizationID string
	ProjectID      string
	ParentID       string // empty for root items
	ExternalKey    string
	Title          string
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads work items from PostgreSQL.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

const itemColumns = `id, organization_id, project_id, COALESCE(parent_id::text, ''),
	COALESCE(external_key, ''), title, COALESCE(description, ''), created_at, updated_at`

// Get fetches a work item by ID within a project.
func (s *Store) Get(ctx context.Context, projectID, itemID string) (*Item, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE id = $1 AND project_id = $2`,
		itemID, projectID)

	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching work item %s: %w", itemID, err)
	}
	return item, nil
}

// Children returns the direct children of a work item, oldest first.
func (s *Store) Children(ctx context.Context, projectID, parentID string) ([]*Item, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+itemColumns+` FROM work_items
		 WHERE parent_id = $1 AND project_id = $2
		 ORDER BY created_at, id`,
		parentID, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning work item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ResolveByExternalKeys maps external keys to work item IDs within a
// project. Keys with no matching item are absent from the result.
func (s *Store) ResolveByExternalKeys(ctx context.Context, projectID string, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT external_key, id FROM work_items
		 WHERE project_id = $1 AND external_key = ANY($2)`,
		projectID, keys)
	if err != nil {
		return nil, fmt.Errorf("resolving external keys: %w", err)
	}
	defer rows.Close()

	resolved := make(map[string]string, len(keys))
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("scanning resolved key: %w", err)
		}
		resolved[key] = id
	}
	return resolved, rows.Err()
}

func scanItem(row pgx.Row) (*Item, error) {
	var item Item
	if err := row.Scan(
		&item.ID, &item.OrganizationID, &item.ProjectID, &item.ParentID,
		&item.ExternalKey, &item.Title, &item.Description,
		&item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &item, nil
}
