package attachments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles attachment metadata rows.
type Repository interface {
	// ListOlderThan returns up to limit attachments created before cutoff
	// with an id greater than afterID, ordered by id. The id cursor lets
	// the sweeper page through candidates without revisiting rows it chose
	// to retain.
	ListOlderThan(ctx context.Context, cutoff time.Time, afterID uuid.UUID, limit int) ([]Attachment, error)

	// Delete removes the metadata row.
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed attachment Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) ListOlderThan(ctx context.Context, cutoff time.Time, afterID uuid.UUID, limit int) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, created_at, storage_ref
		 FROM attachments
		 WHERE created_at < $1 AND id > $2
		 ORDER BY id
		 LIMIT $3`,
		cutoff, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying expired attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.UserID, &a.CreatedAt, &a.StorageRef); err != nil {
			return nil, fmt.Errorf("scanning attachment row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading attachment rows: %w", err)
	}
	return out, nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting attachment %s: %w", id, err)
	}
	return nil
}
