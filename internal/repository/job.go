package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"gig_marketplace/internal/domain"
	"gig_marketplace/pkg/logger"
)

type JobRepository interface {
	LookupJobs(ctx context.Context, ids []uuid.UUID) ([]domain.Job, error)
}

type jobRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewJobRepository(db *pgxpool.Pool, log logger.Logger) JobRepository {
	return &jobRepository{db: db, log: log}
}

func (r *jobRepository) LookupJobs(ctx context.Context, ids []uuid.UUID) ([]domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id, owner_id, title FROM jobs WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		r.log.Error("Failed to look up jobs", "error", err, "count", len(ids))
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Job, 0, len(ids))
	for rows.Next() {
		var job domain.Job
		if err := rows.Scan(&job.ID, &job.OwnerID, &job.Title); err != nil {
			r.log.Error("Failed to scan job", "error", err)
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
