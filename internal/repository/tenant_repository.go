package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
	"gorm.io/gorm"
)

// Credentials is the write-once secret bundle generated during provisioning.
type Credentials struct {
	DBName        string
	DBUser        string
	DBPassword    string
	AdminUser     string
	AdminPassword string
}

type TenantRepository interface {
	BaseRepository[models.Tenant]
	GetByDomain(ctx context.Context, domain string, dest *models.Tenant) error
	ListByStatus(ctx context.Context, status models.TenantStatus) ([]models.Tenant, error)
	// UpdateStatus is the per-tenant claim: it only succeeds when the row
	// still holds the expected status, so two workers can never
	// double-process one tenant.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.TenantStatus) error
	SetPort(ctx context.Context, id uuid.UUID, port int) error
	SetFailure(ctx context.Context, id uuid.UUID, message string) error
	SaveCredentials(ctx context.Context, id uuid.UUID, creds Credentials) error
	ClearCredentials(ctx context.Context, id uuid.UUID) error
	SetTLSOutcome(ctx context.Context, id uuid.UUID, degraded bool, reason string) error
}

type tenantRepository struct {
	BaseRepository[models.Tenant]
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{BaseRepository: NewBaseRepository[models.Tenant](db), db: db}
}

func (r *tenantRepository) GetByDomain(ctx context.Context, domain string, dest *models.Tenant) error {
	if err := r.db.WithContext(ctx).First(dest, "domain = ?", domain).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "tenant not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get tenant by domain failed")
	}
	return nil
}

func (r *tenantRepository) ListByStatus(ctx context.Context, status models.TenantStatus) ([]models.Tenant, error) {
	var out []models.Tenant
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list tenants failed")
	}
	return out, nil
}

func (r *tenantRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.TenantStatus) error {
	if !models.CanTransition(from, to) {
		return appErr.New(appErr.CodeInvalid, "illegal tenant status transition "+string(from)+" -> "+string(to))
	}
	res := r.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update tenant status failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeConflict, "tenant not in expected status "+string(from))
	}
	return nil
}

func (r *tenantRepository) SetPort(ctx context.Context, id uuid.UUID, port int) error {
	res := r.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).Update("port", port)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "set tenant port failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "tenant not found")
	}
	return nil
}

func (r *tenantRepository) SetFailure(ctx context.Context, id uuid.UUID, message string) error {
	res := r.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).
		Update("last_error", message)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "set tenant failure failed")
	}
	return nil
}

func (r *tenantRepository) SaveCredentials(ctx context.Context, id uuid.UUID, creds Credentials) error {
	// Write-once: refuse to overwrite credentials that already exist.
	res := r.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("id = ? AND (db_password = '' OR db_password IS NULL)", id).
		Updates(map[string]any{
			"db_name":        creds.DBName,
			"db_user":        creds.DBUser,
			"db_password":    creds.DBPassword,
			"admin_user":     creds.AdminUser,
			"admin_password": creds.AdminPassword,
		})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "save tenant credentials failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeConflict, "tenant credentials already set")
	}
	return nil
}

func (r *tenantRepository) ClearCredentials(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).
		Updates(map[string]any{
			"db_name":        "",
			"db_user":        "",
			"db_password":    "",
			"admin_user":     "",
			"admin_password": "",
		})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "clear tenant credentials failed")
	}
	return nil
}

func (r *tenantRepository) SetTLSOutcome(ctx context.Context, id uuid.UUID, degraded bool, reason string) error {
	res := r.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).
		Updates(map[string]any{"tls_degraded": degraded, "tls_degraded_reason": reason})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "set tls outcome failed")
	}
	return nil
}
