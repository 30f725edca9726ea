package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
	"gorm.io/gorm"
)

type StagingRepository interface {
	BaseRepository[models.StagingEnvironment]
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.StagingEnvironment, error)
	CountLiveByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
	NextSeq(ctx context.Context, tenantID uuid.UUID) (int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.StagingStatus) error
	SetFailure(ctx context.Context, id uuid.UUID, message string) error
	MarkDeleted(ctx context.Context, id uuid.UUID) error
	TouchPush(ctx context.Context, id uuid.UUID) error
}

type stagingRepository struct {
	BaseRepository[models.StagingEnvironment]
	db *gorm.DB
}

func NewStagingRepository(db *gorm.DB) StagingRepository {
	return &stagingRepository{BaseRepository: NewBaseRepository[models.StagingEnvironment](db), db: db}
}

func (r *stagingRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.StagingEnvironment, error) {
	var out []models.StagingEnvironment
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("seq").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list staging environments failed")
	}
	return out, nil
}

func (r *stagingRepository) CountLiveByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.StagingEnvironment{}).
		Where("tenant_id = ? AND status <> ?", tenantID, models.StagingDeleted).
		Count(&n).Error
	if err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "count staging environments failed")
	}
	return n, nil
}

func (r *stagingRepository) NextSeq(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Model(&models.StagingEnvironment{}).
		Where("tenant_id = ?", tenantID).
		Select("COALESCE(MAX(seq), 0)").Scan(&max).Error
	if err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "next staging seq failed")
	}
	return max + 1, nil
}

func (r *stagingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.StagingStatus) error {
	res := r.db.WithContext(ctx).Model(&models.StagingEnvironment{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update staging status failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeConflict, "staging environment not in expected status "+string(from))
	}
	return nil
}

func (r *stagingRepository) SetFailure(ctx context.Context, id uuid.UUID, message string) error {
	res := r.db.WithContext(ctx).Model(&models.StagingEnvironment{}).Where("id = ?", id).
		Updates(map[string]any{"status": models.StagingFailed, "last_error": message})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "set staging failure failed")
	}
	return nil
}

func (r *stagingRepository) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.StagingEnvironment{}).Where("id = ?", id).
		Update("status", models.StagingDeleted)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "mark staging deleted failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "staging environment not found")
	}
	return nil
}

func (r *stagingRepository) TouchPush(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.StagingEnvironment{}).Where("id = ?", id).
		Update("last_push_at", gorm.Expr("NOW()"))
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "touch staging push failed")
	}
	return nil
}
