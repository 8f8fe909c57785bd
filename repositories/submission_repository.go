package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var ErrSubmissionExists = errors.New("submission already exists")

type SubmissionRepository interface {
	Create(ctx context.Context, userID int64, animationID string) error
	CountForUser(ctx context.Context, userID int64) (int, error)
	CountForAnimation(ctx context.Context, animationID string) (int, error)
	Counts(ctx context.Context) (map[string]int, error)
	RankBySubmitters(ctx context.Context, limit int) ([]string, error)
	DeleteAll(ctx context.Context) error
}

type postgresSubmissionRepository struct {
	db *sql.DB
}

func NewPostgresSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &postgresSubmissionRepository{db: db}
}

func (r *postgresSubmissionRepository) Create(ctx context.Context, userID int64, animationID string) error {
	query := `
		INSERT INTO submissions (user_id, animation_id)
		VALUES ($1, $2)`

	if _, err := r.db.ExecContext(ctx, query, userID, animationID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrSubmissionExists
		}
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (r *postgresSubmissionRepository) CountForUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM submissions WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count submissions for user %d: %w", userID, err)
	}
	return count, nil
}

func (r *postgresSubmissionRepository) CountForAnimation(ctx context.Context, animationID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM submissions WHERE animation_id = $1`, animationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count submissions for animation %s: %w", animationID, err)
	}
	return count, nil
}

func (r *postgresSubmissionRepository) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT animation_id, count(*) FROM submissions GROUP BY animation_id`)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scan submission count: %w", err)
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

// RankBySubmitters orders animations by how many distinct users submitted
// them. The secondary ordering by ID makes the ranking stable, which matters
// because the seed assignment downstream is deterministic on its input.
func (r *postgresSubmissionRepository) RankBySubmitters(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT animation_id, count(DISTINCT user_id) AS submitters
		FROM submissions
		GROUP BY animation_id
		ORDER BY submitters DESC, animation_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("rank submissions: %w", err)
	}
	defer rows.Close()

	var ranked []string
	for rows.Next() {
		var id string
		var submitters int
		if err := rows.Scan(&id, &submitters); err != nil {
			return nil, fmt.Errorf("scan ranked submission: %w", err)
		}
		ranked = append(ranked, id)
	}
	return ranked, rows.Err()
}

func (r *postgresSubmissionRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM submissions`); err != nil {
		return fmt.Errorf("delete submissions: %w", err)
	}
	return nil
}
