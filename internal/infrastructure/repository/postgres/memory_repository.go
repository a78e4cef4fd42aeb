package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arxlab/litagent/internal/core/domain"
)

type MemoryRepository struct {
	db *sql.DB
}

func NewMemoryRepository(db *sql.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

func (r *MemoryRepository) Insert(ctx context.Context, memory *domain.Memory) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO memories (id, user_id, fact, importance, created_at, last_accessed_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, memory.ID, memory.UserID, memory.Fact, memory.Importance, memory.CreatedAt, memory.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, memory *domain.Memory) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE memories
SET fact = $3, importance = $4, last_accessed_at = $5
WHERE user_id = $1 AND id = $2
`, memory.UserID, memory.ID, memory.Fact, memory.Importance, memory.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update memory rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "update memory", fmt.Errorf("memory %s not found", memory.ID))
	}
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, userID, memoryID string) (*domain.Memory, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, fact, importance, created_at, last_accessed_at
FROM memories
WHERE user_id = $1 AND id = $2
`, userID, memoryID)

	var memory domain.Memory
	if err := row.Scan(
		&memory.ID,
		&memory.UserID,
		&memory.Fact,
		&memory.Importance,
		&memory.CreatedAt,
		&memory.LastAccessedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get memory", fmt.Errorf("memory %s not found", memoryID))
		}
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	return &memory, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]domain.Memory, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, fact, importance, created_at, last_accessed_at
FROM memories
WHERE user_id = $1
ORDER BY created_at ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Memory, 0)
	for rows.Next() {
		var memory domain.Memory
		if err := rows.Scan(
			&memory.ID,
			&memory.UserID,
			&memory.Fact,
			&memory.Importance,
			&memory.CreatedAt,
			&memory.LastAccessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		out = append(out, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, userID, memoryID string) error {
	_, err := r.db.ExecContext(ctx, `
DELETE FROM memories
WHERE user_id = $1 AND id = $2
`, userID, memoryID)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}
