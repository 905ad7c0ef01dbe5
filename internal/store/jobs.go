package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"server/internal/domain"
)

// JobRepo persists generation job records in the embedded ledger. The ledger
// is an audit trail: losing a write degrades history, never a response, so
// callers log repo errors instead of failing the request on them.
type JobRepo struct {
	db *gorm.DB
}

// NewJobRepo wraps an opened jobs database.
func NewJobRepo(db *gorm.DB) *JobRepo {
	return &JobRepo{db: db}
}

// Create inserts a new pending job record.
func (r *JobRepo) Create(ctx context.Context, job *domain.GenerationJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// MarkRunning transitions a job to running and stamps its start time.
func (r *JobRepo) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.update(ctx, id, map[string]any{
		"status":     domain.JobStatusRunning,
		"started_at": &now,
	})
}

// MarkSucceeded records the final artifact's metadata.
func (r *JobRepo) MarkSucceeded(ctx context.Context, id string, res *domain.SynthesisResult) error {
	now := time.Now().UTC()
	return r.update(ctx, id, map[string]any{
		"status":       domain.JobStatusSucceeded,
		"output_bytes": res.SizeBytes,
		"duration_ms":  res.Duration.Milliseconds(),
		"width":        res.Width,
		"height":       res.Height,
		"frame_count":  res.FrameCount,
		"finished_at":  &now,
	})
}

// MarkFailed records the failure kind and caller-safe message.
func (r *JobRepo) MarkFailed(ctx context.Context, id string, kind domain.Kind, message string) error {
	now := time.Now().UTC()
	return r.update(ctx, id, map[string]any{
		"status":      domain.JobStatusFailed,
		"error_kind":  string(kind),
		"error":       &message,
		"finished_at": &now,
	})
}

func (r *JobRepo) update(ctx context.Context, id string, fields map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&domain.GenerationJob{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Get loads a single job record.
func (r *JobRepo) Get(ctx context.Context, id string) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return &job, nil
}

// ListRecent returns jobs in newest-first order.
func (r *JobRepo) ListRecent(ctx context.Context, limit int) ([]domain.GenerationJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []domain.GenerationJob
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// PurgeOlderThan deletes finished job records created before the cutoff.
// Pending and running rows are kept regardless of age.
func (r *JobRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", cutoff,
			[]domain.JobStatus{domain.JobStatusSucceeded, domain.JobStatusFailed}).
		Delete(&domain.GenerationJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
