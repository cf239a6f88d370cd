package generations

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const generationColumns = `id, sentence, status, error_detail, error_code, source_key, artifact_key,
    mime_type, size_bytes, page_count, request_id, created_at, started_at, completed_at`

// Create inserts a generation.
func (r *PGRepo) Create(ctx context.Context, gen Generation) error {
	const query = `
INSERT INTO generations (
    id, sentence, status, error_detail, error_code, source_key, artifact_key,
    mime_type, size_bytes, page_count, request_id, created_at, started_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.DB.ExecContext(ctx, query,
		gen.ID,
		gen.Sentence,
		gen.Status,
		gen.ErrorDetail,
		gen.ErrorCode,
		gen.SourceKey,
		gen.ArtifactKey,
		gen.MimeType,
		gen.SizeBytes,
		gen.PageCount,
		gen.RequestID,
		gen.CreatedAt,
		nullTime(gen.StartedAt),
		nullTime(gen.CompletedAt),
	)
	return err
}

// GetByID returns a generation by ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Generation, error) {
	query := `
SELECT ` + generationColumns + `
FROM generations
WHERE id = $1
LIMIT 1`
	gen, err := scanGeneration(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Generation{}, ErrNotFound
		}
		return Generation{}, err
	}
	return gen, nil
}

// Update persists the mutable fields of a generation.
func (r *PGRepo) Update(ctx context.Context, gen Generation) error {
	const query = `
UPDATE generations
SET status = $2,
    error_detail = $3,
    error_code = $4,
    source_key = $5,
    artifact_key = $6,
    mime_type = $7,
    size_bytes = $8,
    page_count = $9,
    started_at = $10,
    completed_at = $11
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query,
		gen.ID,
		gen.Status,
		gen.ErrorDetail,
		gen.ErrorCode,
		gen.SourceKey,
		gen.ArtifactKey,
		gen.MimeType,
		gen.SizeBytes,
		gen.PageCount,
		nullTime(gen.StartedAt),
		nullTime(gen.CompletedAt),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestCompleted returns the generation with the newest completed_at.
func (r *PGRepo) LatestCompleted(ctx context.Context) (Generation, error) {
	query := `
SELECT ` + generationColumns + `
FROM generations
WHERE status = $1
ORDER BY completed_at DESC
LIMIT 1`
	gen, err := scanGeneration(r.DB.QueryRowContext(ctx, query, StatusCompleted))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Generation{}, ErrNotFound
		}
		return Generation{}, err
	}
	return gen, nil
}

// List lists generations ordered newest-first.
func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `
SELECT ` + generationColumns + `
FROM generations
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`

	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Generation{}
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gen)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (Generation, error) {
	var (
		gen         Generation
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&gen.ID,
		&gen.Sentence,
		&gen.Status,
		&gen.ErrorDetail,
		&gen.ErrorCode,
		&gen.SourceKey,
		&gen.ArtifactKey,
		&gen.MimeType,
		&gen.SizeBytes,
		&gen.PageCount,
		&gen.RequestID,
		&gen.CreatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return Generation{}, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		gen.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		gen.CompletedAt = &t
	}
	return gen, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

var _ Repo = (*PGRepo)(nil)
