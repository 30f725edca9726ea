package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobRepository interface {
	BaseRepository[models.Job]
	Begin(ctx context.Context, targetID uuid.UUID, targetKind, operation string) (*models.Job, error)
	Complete(ctx context.Context, id uuid.UUID, runErr error) error
	AttachMeta(ctx context.Context, id uuid.UUID, meta datatypes.JSON) error
	ListByTarget(ctx context.Context, targetID uuid.UUID) ([]models.Job, error)
}

type jobRepository struct {
	BaseRepository[models.Job]
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{BaseRepository: NewBaseRepository[models.Job](db), db: db}
}

func (r *jobRepository) Begin(ctx context.Context, targetID uuid.UUID, targetKind, operation string) (*models.Job, error) {
	job := &models.Job{
		TargetID:   targetID,
		TargetKind: targetKind,
		Operation:  operation,
		Status:     models.JobRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := r.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) Complete(ctx context.Context, id uuid.UUID, runErr error) error {
	now := time.Now().UTC()
	updates := map[string]any{"status": models.JobCompleted, "finished_at": now}
	if runErr != nil {
		updates["status"] = models.JobFailed
		updates["error"] = runErr.Error()
	}
	res := r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "complete job failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "job not found")
	}
	return nil
}

func (r *jobRepository) AttachMeta(ctx context.Context, id uuid.UUID, meta datatypes.JSON) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Update("meta", meta)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "attach job meta failed")
	}
	return nil
}

func (r *jobRepository) ListByTarget(ctx context.Context, targetID uuid.UUID) ([]models.Job, error) {
	var out []models.Job
	if err := r.db.WithContext(ctx).Where("target_id = ?", targetID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list jobs failed")
	}
	return out, nil
}
