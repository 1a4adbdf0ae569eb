package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persisted usage counter store. Counters live outside the
// process so that every service instance observes the same view; all
// mutations are single conditional writes at the storage layer, never
// read-then-write.
type Repository interface {
	// DailyUsage returns the counters for one user and day. Metrics with no
	// row read as 0.
	DailyUsage(ctx context.Context, userID uuid.UUID, day time.Time) (map[Metric]int64, error)

	// Increment atomically adds delta to the (user, day, metric) counter,
	// creating the row at delta if absent, and returns the new count. Each
	// call is one accounting event; two calls are never coalesced.
	Increment(ctx context.Context, userID uuid.UUID, day time.Time, metric Metric, delta int64) (int64, error)

	// IncrementWithin adds delta only if the resulting count stays within
	// limit. Returns the new count and whether the write was applied. This
	// is the hard-enforcement primitive: the condition and the add are one
	// atomic statement.
	IncrementWithin(ctx context.Context, userID uuid.UUID, day time.Time, metric Metric, delta, limit int64) (int64, bool, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed usage counter store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) DailyUsage(ctx context.Context, userID uuid.UUID, day time.Time) (map[Metric]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT metric, count FROM usage_counters WHERE user_id = $1 AND day = $2`,
		userID, DayOf(day))
	if err != nil {
		return nil, fmt.Errorf("querying daily usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[Metric]int64, len(Metrics))
	for _, m := range Metrics {
		usage[m] = 0
	}
	for rows.Next() {
		var metric string
		var count int64
		if err := rows.Scan(&metric, &count); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		usage[Metric(metric)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading usage rows: %w", err)
	}
	return usage, nil
}

func (r *postgresRepository) Increment(ctx context.Context, userID uuid.UUID, day time.Time, metric Metric, delta int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO usage_counters (user_id, day, metric, count)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, day, metric)
		 DO UPDATE SET count = usage_counters.count + EXCLUDED.count,
		               updated_at = NOW()
		 RETURNING count`,
		userID, DayOf(day), string(metric), delta,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing usage counter: %w", err)
	}
	return count, nil
}

func (r *postgresRepository) IncrementWithin(ctx context.Context, userID uuid.UUID, day time.Time, metric Metric, delta, limit int64) (int64, bool, error) {
	// A fresh row is created at count = delta, which the upsert's WHERE
	// clause cannot guard, so the insert path is checked here.
	if delta > limit {
		return 0, false, nil
	}

	var count int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO usage_counters (user_id, day, metric, count)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, day, metric)
		 DO UPDATE SET count = usage_counters.count + EXCLUDED.count,
		               updated_at = NOW()
		 WHERE usage_counters.count + EXCLUDED.count <= $5
		 RETURNING count`,
		userID, DayOf(day), string(metric), delta, limit,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict hit and the guard rejected the add: over limit.
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("conditionally incrementing usage counter: %w", err)
	}
	return count, true, nil
}
