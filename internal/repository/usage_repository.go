package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsageRepository interface {
	// UpsertSample records today's measurement, replacing an earlier sample
	// for the same (tenant, day).
	UpsertSample(ctx context.Context, sample *models.UsageSample) error
	// MonthBandwidth sums bandwidth samples for the calendar month of ref.
	MonthBandwidth(ctx context.Context, tenantID uuid.UUID, ref time.Time) (int64, error)
}

type usageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) UpsertSample(ctx context.Context, sample *models.UsageSample) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"disk_bytes", "bandwidth_bytes", "updated_at"}),
	}).Create(sample).Error
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "upsert usage sample failed")
	}
	return nil
}

func (r *usageRepository) MonthBandwidth(ctx context.Context, tenantID uuid.UUID, ref time.Time) (int64, error) {
	monthStart := time.Date(ref.UTC().Year(), ref.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	var total int64
	err := r.db.WithContext(ctx).Model(&models.UsageSample{}).
		Where("tenant_id = ? AND day >= ?", tenantID, models.UsageDay(monthStart)).
		Select("COALESCE(SUM(bandwidth_bytes), 0)").Scan(&total).Error
	if err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "sum month bandwidth failed")
	}
	return total, nil
}
