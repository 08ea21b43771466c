package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"gig_marketplace/internal/domain"
	"gig_marketplace/pkg/logger"
)

// IdentityRepository reads public profiles. Unknown ids are simply absent from the result.
type IdentityRepository interface {
	LookupIdentities(ctx context.Context, ids []uuid.UUID) ([]domain.Identity, error)
}

type identityRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewIdentityRepository(db *pgxpool.Pool, log logger.Logger) IdentityRepository {
	return &identityRepository{db: db, log: log}
}

func (r *identityRepository) LookupIdentities(ctx context.Context, ids []uuid.UUID) ([]domain.Identity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, display_name, avatar_url
		FROM profiles
		WHERE id = ANY($1::uuid[])
	`, uuidStrings(ids))
	if err != nil {
		r.log.Error("Failed to look up profiles", "error", err, "count", len(ids))
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Identity, 0, len(ids))
	for rows.Next() {
		var ident domain.Identity
		if err := rows.Scan(&ident.ID, &ident.DisplayName, &ident.AvatarURL); err != nil {
			r.log.Error("Failed to scan profile", "error", err)
			return nil, err
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
