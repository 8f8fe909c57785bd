package repositories

import (
	"context"
	"database/sql"
	"fmt"
)

// SeedingRepository stages an admin-supplied ranking before voting starts.
// The staged ranking lives in Postgres; the derived seeding only reaches the
// tournament state store at the moment voting begins.
type SeedingRepository interface {
	Replace(ctx context.Context, ranked []string) error
	Ranked(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

type postgresSeedingRepository struct {
	db *sql.DB
}

func NewPostgresSeedingRepository(db *sql.DB) SeedingRepository {
	return &postgresSeedingRepository{db: db}
}

func (r *postgresSeedingRepository) Replace(ctx context.Context, ranked []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seeding replace: %w", err)
	}
	defer tx.Rollback()

	if err := r.replace(ctx, tx, ranked); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seeding replace: %w", err)
	}
	return nil
}

func (r *postgresSeedingRepository) replace(ctx context.Context, exec SQLExecutor, ranked []string) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM seeding`); err != nil {
		return fmt.Errorf("clear staged seeding: %w", err)
	}
	for rank, animationID := range ranked {
		_, err := exec.ExecContext(ctx,
			`INSERT INTO seeding (rank, animation_id) VALUES ($1, $2)`, rank, animationID)
		if err != nil {
			return fmt.Errorf("stage seed %d: %w", rank, err)
		}
	}
	return nil
}

func (r *postgresSeedingRepository) Ranked(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT animation_id FROM seeding ORDER BY rank`)
	if err != nil {
		return nil, fmt.Errorf("load staged seeding: %w", err)
	}
	defer rows.Close()

	var ranked []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan staged seed: %w", err)
		}
		ranked = append(ranked, id)
	}
	return ranked, rows.Err()
}

func (r *postgresSeedingRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM seeding`); err != nil {
		return fmt.Errorf("clear staged seeding: %w", err)
	}
	return nil
}
