package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
)

type AnalysisRepo struct {
	pool *pgxpool.Pool
}

func NewAnalysisRepo(pool *pgxpool.Pool) *AnalysisRepo {
	return &AnalysisRepo{pool: pool}
}

const analysisColumns = `id, owner_id, video_id, speed, level, score,
	technique_power, technique_angle, technique_coordination,
	rank, rank_position, suggestions, cost, duration_seconds, created_at`

func scanAnalysis(row pgx.Row) (*model.AnalysisResult, error) {
	var (
		a           model.AnalysisResult
		suggestions []byte
	)
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.VideoID, &a.Speed, &a.Level, &a.Score,
		&a.Technique.Power, &a.Technique.Angle, &a.Technique.Coordination,
		&a.Rank, &a.RankPosition, &suggestions, &a.Cost, &a.DurationSeconds, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(suggestions, &a.Suggestions); err != nil {
		return nil, fmt.Errorf("decode suggestions for analysis %s: %w", a.ID, err)
	}
	return &a, nil
}

// Insert persists an analysis result and fills in CreatedAt.
func (r *AnalysisRepo) Insert(ctx context.Context, a *model.AnalysisResult) error {
	suggestions := a.Suggestions
	if suggestions == nil {
		suggestions = []model.Suggestion{}
	}
	raw, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("encode suggestions: %w", err)
	}

	return r.pool.QueryRow(ctx, `
		INSERT INTO analyses (id, owner_id, video_id, speed, level, score,
		                      technique_power, technique_angle, technique_coordination,
		                      rank, rank_position, suggestions, cost, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at`,
		a.ID, a.OwnerID, a.VideoID, a.Speed, a.Level, a.Score,
		a.Technique.Power, a.Technique.Angle, a.Technique.Coordination,
		a.Rank, a.RankPosition, raw, a.Cost, a.DurationSeconds,
	).Scan(&a.CreatedAt)
}

// FindForOwner returns the analysis only when it belongs to ownerID.
func (r *AnalysisRepo) FindForOwner(ctx context.Context, id, ownerID string) (*model.AnalysisResult, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+analysisColumns+`
		FROM analyses
		WHERE id = $1 AND owner_id = $2`, id, ownerID)
	a, err := scanAnalysis(row)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ListByOwner returns the owner's analysis history, newest first.
func (r *AnalysisRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.AnalysisResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+analysisColumns+`
		FROM analyses
		WHERE owner_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []model.AnalysisResult{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *a)
	}
	return results, rows.Err()
}
