package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arxlab/litagent/internal/core/domain"
)

type ReviewTabRepository struct {
	db *sql.DB
}

func NewReviewTabRepository(db *sql.DB) *ReviewTabRepository {
	return &ReviewTabRepository{db: db}
}

func (r *ReviewTabRepository) Get(ctx context.Context, userID, projectID string, kind domain.TabKind) (*domain.ReviewTab, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, project_id, user_id, kind, content, version, created_at, updated_at
FROM review_tabs
WHERE user_id = $1 AND project_id = $2 AND kind = $3
`, userID, projectID, string(kind))

	tab, err := scanReviewTab(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get review tab",
				fmt.Errorf("tab %s not found for project %s", kind, projectID))
		}
		return nil, fmt.Errorf("scan review tab: %w", err)
	}
	return tab, nil
}

// Upsert replaces the tab content. The row is the unit of mutual
// exclusion: concurrent writers serialize on the unique key and the
// version counter records how many writes landed.
func (r *ReviewTabRepository) Upsert(ctx context.Context, tab *domain.ReviewTab) (*domain.ReviewTab, error) {
	now := time.Now().UTC()
	id := tab.ID
	if id == "" {
		id = uuid.NewString()
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO review_tabs (id, project_id, user_id, kind, content, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,1,$6,$6)
ON CONFLICT (user_id, project_id, kind) DO UPDATE
SET content = EXCLUDED.content,
    version = review_tabs.version + 1,
    updated_at = EXCLUDED.updated_at
RETURNING id, project_id, user_id, kind, content, version, created_at, updated_at
`, id, tab.ProjectID, tab.UserID, string(tab.Kind), tab.Content, now)

	stored, err := scanReviewTab(row)
	if err != nil {
		return nil, fmt.Errorf("upsert review tab: %w", err)
	}
	return stored, nil
}

func (r *ReviewTabRepository) ListByProject(ctx context.Context, userID, projectID string) ([]domain.ReviewTab, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, project_id, user_id, kind, content, version, created_at, updated_at
FROM review_tabs
WHERE user_id = $1 AND project_id = $2
ORDER BY kind ASC
`, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list review tabs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ReviewTab, 0)
	for rows.Next() {
		tab, err := scanReviewTab(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review tab row: %w", err)
		}
		out = append(out, *tab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review tabs: %w", err)
	}
	return out, nil
}

func scanReviewTab(row rowScanner) (*domain.ReviewTab, error) {
	var tab domain.ReviewTab
	var kind string
	if err := row.Scan(
		&tab.ID,
		&tab.ProjectID,
		&tab.UserID,
		&kind,
		&tab.Content,
		&tab.Version,
		&tab.CreatedAt,
		&tab.UpdatedAt,
	); err != nil {
		return nil, err
	}
	tab.Kind = domain.TabKind(kind)
	return &tab, nil
}
