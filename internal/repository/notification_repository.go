package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	// SentSince reports whether a notification of kind was sent to the
	// tenant at or after the given time.
	SentSince(ctx context.Context, tenantID uuid.UUID, kind string, since time.Time) (bool, error)
	Record(ctx context.Context, tenantID uuid.UUID, kind string) error
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) SentSince(ctx context.Context, tenantID uuid.UUID, kind string, since time.Time) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("tenant_id = ? AND kind = ? AND sent_at >= ?", tenantID, kind, since).
		Count(&n).Error
	if err != nil {
		return false, appErr.Wrap(err, appErr.CodeInternal, "query notification records failed")
	}
	return n > 0, nil
}

func (r *notificationRepository) Record(ctx context.Context, tenantID uuid.UUID, kind string) error {
	rec := &models.NotificationRecord{TenantID: tenantID, Kind: kind, SentAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "record notification failed")
	}
	return nil
}
