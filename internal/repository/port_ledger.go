package repository

import (
	"context"

	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
	"gorm.io/gorm"
)

// PortLedger answers whether a port is recorded against any live tenant or
// staging environment. It is the database half of the allocator's check; the
// OS socket probe is the other half.
type PortLedger struct {
	db *gorm.DB
}

func NewPortLedger(db *gorm.DB) *PortLedger {
	return &PortLedger{db: db}
}

func (l *PortLedger) InUse(ctx context.Context, port int) (bool, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("port = ? AND status <> ?", port, models.StatusTerminated).
		Count(&n).Error
	if err != nil {
		return false, appErr.Wrap(err, appErr.CodeInternal, "port ledger tenant query failed")
	}
	if n > 0 {
		return true, nil
	}
	err = l.db.WithContext(ctx).Model(&models.StagingEnvironment{}).
		Where("port = ? AND status <> ?", port, models.StagingDeleted).
		Count(&n).Error
	if err != nil {
		return false, appErr.Wrap(err, appErr.CodeInternal, "port ledger staging query failed")
	}
	return n > 0, nil
}
