package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a write violates a unique constraint.
var ErrDuplicate = errors.New("duplicate")

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func duplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

type VideoRepo struct {
	pool *pgxpool.Pool
}

func NewVideoRepo(pool *pgxpool.Pool) *VideoRepo {
	return &VideoRepo{pool: pool}
}

const videoColumns = `id, owner_id, original_name, original_key, stored_key, thumbnail_key,
	duration, size_bytes, trim_start, trim_end, created_at`

func scanVideo(row pgx.Row) (*model.Video, error) {
	var (
		v                  model.Video
		trimStart, trimEnd *float64
	)
	err := row.Scan(
		&v.ID, &v.OwnerID, &v.OriginalName, &v.OriginalKey, &v.StoredKey, &v.ThumbnailKey,
		&v.Duration, &v.Size, &trimStart, &trimEnd, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if trimStart != nil && trimEnd != nil {
		v.Trim = &model.TrimRange{Start: *trimStart, End: *trimEnd}
	}
	return &v, nil
}

// Insert persists a new video and fills in CreatedAt.
func (r *VideoRepo) Insert(ctx context.Context, v *model.Video) error {
	var trimStart, trimEnd *float64
	if v.Trim != nil {
		trimStart, trimEnd = &v.Trim.Start, &v.Trim.End
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO videos (id, owner_id, original_name, original_key, stored_key, thumbnail_key,
		                    duration, size_bytes, trim_start, trim_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		v.ID, v.OwnerID, v.OriginalName, v.OriginalKey, v.StoredKey, v.ThumbnailKey,
		v.Duration, v.Size, trimStart, trimEnd,
	).Scan(&v.CreatedAt)
}

// FindForOwner returns the video only when it belongs to ownerID.
func (r *VideoRepo) FindForOwner(ctx context.Context, id, ownerID string) (*model.Video, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE id = $1 AND owner_id = $2`, id, ownerID)
	v, err := scanVideo(row)
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

// ListByOwner returns the owner's videos, newest first.
func (r *VideoRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Video, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE owner_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	videos := []model.Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}
