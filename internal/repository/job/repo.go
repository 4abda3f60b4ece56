package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/renditionlab/renditions/internal/model"
)

var ErrJobNotFound = errors.New("job not found")

// Repository persists batch jobs and their renditions.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateJob inserts a new job record and returns its UUID.
func (r *Repository) CreateJob(ctx context.Context, job model.Job) (uuid.UUID, error) {
	query := `
		INSERT INTO jobs (input_root, output_root, recipe_group, recipes, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
   `

	recipesJSON, err := json.Marshal(job.Recipes)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal recipes: %w", err)
	}

	var id uuid.UUID
	err = r.db.QueryRowContext(
		ctx, query, job.InputRoot, job.OutputRoot, job.Group, recipesJSON, job.Status,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create: failed to save job: %w", err)
	}

	return id, nil
}

// GetJob retrieves a job record by ID.
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (model.Job, error) {
	query := `
		SELECT input_root, output_root, recipe_group, recipes, status, error, created_at, updated_at
		FROM jobs
		WHERE id = $1
    `

	var job model.Job
	var recipesBytes []byte

	err := r.db.QueryRowContext(
		ctx, query, id,
	).Scan(&job.InputRoot, &job.OutputRoot, &job.Group, &recipesBytes, &job.Status, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, ErrJobNotFound
		}

		return model.Job{}, fmt.Errorf("get: failed to get job: %w", err)
	}

	if err := json.Unmarshal(recipesBytes, &job.Recipes); err != nil {
		return model.Job{}, fmt.Errorf("get: failed to unmarshal recipes: %w", err)
	}

	job.ID = id

	return job, nil
}

// SetJobStatus updates the status and error text of an existing job.
func (r *Repository) SetJobStatus(ctx context.Context, id uuid.UUID, status, errText string) error {
	query := `
		UPDATE jobs
		SET status = $1, error = $2, updated_at = now()
		WHERE id = $3
    `

	res, err := r.db.ExecContext(ctx, query, status, errText, id)
	if err != nil {
		return fmt.Errorf("update: failed to update job: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrJobNotFound
	}

	return nil
}

// SaveRendition inserts one rendition row for a job.
func (r *Repository) SaveRendition(ctx context.Context, ren model.Rendition) (uuid.UUID, error) {
	query := `
		INSERT INTO renditions (job_id, source_path, dest_path, extension, size_bytes, width, height, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
   `

	var id uuid.UUID
	err := r.db.QueryRowContext(
		ctx, query,
		ren.JobID, ren.SourcePath, ren.DestPath, ren.Extension,
		ren.SizeBytes, ren.Width, ren.Height, ren.Status, ren.Error,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save: failed to save rendition: %w", err)
	}

	return id, nil
}

// ListRenditions returns the rendition rows of a job in creation order.
func (r *Repository) ListRenditions(ctx context.Context, jobID uuid.UUID) ([]model.Rendition, error) {
	query := `
		SELECT id, source_path, dest_path, extension, size_bytes, width, height, status, error, created_at
		FROM renditions
		WHERE job_id = $1
		ORDER BY created_at, id
    `

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list: failed to query renditions: %w", err)
	}
	defer rows.Close()

	var out []model.Rendition
	for rows.Next() {
		ren := model.Rendition{JobID: jobID}
		if err := rows.Scan(
			&ren.ID, &ren.SourcePath, &ren.DestPath, &ren.Extension,
			&ren.SizeBytes, &ren.Width, &ren.Height, &ren.Status, &ren.Error, &ren.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("list: failed to scan rendition: %w", err)
		}
		out = append(out, ren)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: failed to iterate renditions: %w", err)
	}

	return out, nil
}
