package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/pettinen/gifdome/models"
)

var ErrAnimationNotFound = errors.New("animation not found")

type AnimationRepository interface {
	Upsert(ctx context.Context, animation *models.Animation) error
	AddFilename(ctx context.Context, animationID, filename string) error
	FileID(ctx context.Context, id string) (string, error)
	FileIDs(ctx context.Context, ids []string) (map[string]string, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	List(ctx context.Context) ([]models.Animation, error)
	Count(ctx context.Context) (int, error)
}

type postgresAnimationRepository struct {
	db *sql.DB
}

func NewPostgresAnimationRepository(db *sql.DB) AnimationRepository {
	return &postgresAnimationRepository{db: db}
}

// Upsert keeps the latest metadata for an animation. Re-submissions of a
// known animation refresh the sendable file handle, which can rotate even
// though the unique ID stays stable.
func (r *postgresAnimationRepository) Upsert(ctx context.Context, animation *models.Animation) error {
	query := `
		INSERT INTO animations (id, file_id, file_size, mime_type, width, height, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			file_id = EXCLUDED.file_id,
			file_size = EXCLUDED.file_size,
			mime_type = EXCLUDED.mime_type,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			duration = EXCLUDED.duration
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		animation.ID,
		animation.FileID,
		animation.FileSize,
		animation.MimeType,
		animation.Width,
		animation.Height,
		animation.Duration,
	).Scan(&animation.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert animation %s: %w", animation.ID, err)
	}
	return nil
}

func (r *postgresAnimationRepository) AddFilename(ctx context.Context, animationID, filename string) error {
	query := `
		INSERT INTO animation_filenames (animation_id, filename)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, animationID, filename); err != nil {
		return fmt.Errorf("add filename for animation %s: %w", animationID, err)
	}
	return nil
}

func (r *postgresAnimationRepository) FileID(ctx context.Context, id string) (string, error) {
	var fileID string
	err := r.db.QueryRowContext(ctx, `SELECT file_id FROM animations WHERE id = $1`, id).Scan(&fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrAnimationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup animation %s: %w", id, err)
	}
	return fileID, nil
}

func (r *postgresAnimationRepository) FileIDs(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, file_id FROM animations WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("lookup animation file ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, fileID string
		if err := rows.Scan(&id, &fileID); err != nil {
			return nil, fmt.Errorf("scan animation file id: %w", err)
		}
		out[id] = fileID
	}
	return out, rows.Err()
}

func (r *postgresAnimationRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM animations WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("check animation ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan animation id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (r *postgresAnimationRepository) List(ctx context.Context) ([]models.Animation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file_id, file_size, mime_type, width, height, duration, created_at
		FROM animations
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list animations: %w", err)
	}
	defer rows.Close()

	var animations []models.Animation
	index := make(map[string]int)
	for rows.Next() {
		var a models.Animation
		err := rows.Scan(&a.ID, &a.FileID, &a.FileSize, &a.MimeType, &a.Width, &a.Height, &a.Duration, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan animation: %w", err)
		}
		a.Filenames = []string{}
		index[a.ID] = len(animations)
		animations = append(animations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	nameRows, err := r.db.QueryContext(ctx,
		`SELECT animation_id, filename FROM animation_filenames ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("list animation filenames: %w", err)
	}
	defer nameRows.Close()

	for nameRows.Next() {
		var id, filename string
		if err := nameRows.Scan(&id, &filename); err != nil {
			return nil, fmt.Errorf("scan animation filename: %w", err)
		}
		if i, ok := index[id]; ok {
			animations[i].Filenames = append(animations[i].Filenames, filename)
		}
	}
	return animations, nameRows.Err()
}

func (r *postgresAnimationRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM animations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count animations: %w", err)
	}
	return count, nil
}
