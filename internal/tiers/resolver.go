package tiers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/converso-ai/converso/internal/quota"
)

// Repository reads a user's current subscription tier. Subscription state
// transitions are owned by the billing collaborator; this side only reads.
type Repository interface {
	TierOf(ctx context.Context, userID uuid.UUID) (string, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed tier Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) TierOf(ctx context.Context, userID uuid.UUID) (string, error) {
	var tier string
	err := r.pool.QueryRow(ctx,
		`SELECT subscription_tier FROM users WHERE id = $1`, userID,
	).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("user %s not found", userID)
	}
	if err != nil {
		return "", fmt.Errorf("querying subscription tier: %w", err)
	}
	return tier, nil
}

// Resolver maps users to tier limits. It never fails: missing users,
// lookup errors, and unknown tier names all resolve to the fallback (most
// restrictive) tier with a logged warning, so an admission decision is
// always producible.
type Resolver struct {
	repo     Repository
	table    Table
	fallback string
}

// NewResolver creates a Resolver over the given tier table. fallback names
// the tier used when resolution fails; it must exist in the table.
func NewResolver(repo Repository, table Table, fallback string) *Resolver {
	if _, ok := table[fallback]; !ok {
		panic(fmt.Sprintf("tiers: fallback tier %q not in table", fallback))
	}
	return &Resolver{repo: repo, table: table, fallback: fallback}
}

// Resolve returns the limits of the user's tier.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) quota.Limits {
	tier, err := r.repo.TierOf(ctx, userID)
	if err != nil {
		slog.Warn("tiers: resolution failed, using fallback",
			"error", err, "user_id", userID, "fallback", r.fallback)
		return r.table[r.fallback]
	}

	limits, ok := r.table[tier]
	if !ok {
		slog.Warn("tiers: unknown tier, using fallback",
			"tier", tier, "user_id", userID, "fallback", r.fallback)
		return r.table[r.fallback]
	}
	return limits
}
