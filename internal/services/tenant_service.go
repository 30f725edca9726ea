// Package services is the API-facing layer: it validates input, creates
// records, and enqueues lifecycle work on the durable queue. All container
// and filesystem work happens in the worker, never here.
package services

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/storegrid/engine/internal/models"
	"github.com/storegrid/engine/internal/queue/tasks"
	"github.com/storegrid/engine/internal/repository"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TenantService interface {
	CreateTenant(ctx context.Context, input *CreateTenantInput) (*models.Tenant, error)
	GetTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error)
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	ListTenants(ctx context.Context, filters *TenantFilters) ([]models.Tenant, error)

	// Lifecycle actions: each enqueues a task after a fail-fast status check.
	SuspendTenant(ctx context.Context, tenantID uuid.UUID) error
	ReactivateTenant(ctx context.Context, tenantID uuid.UUID) error
	TerminateTenant(ctx context.Context, tenantID uuid.UUID) error
	RetryProvisioning(ctx context.Context, tenantID uuid.UUID) error

	// UpdateSubscription applies a billing event to the tenant record; the
	// enforcement sweep acts on it when the grace deadline passes.
	UpdateSubscription(ctx context.Context, tenantID uuid.UUID, input *SubscriptionInput) (*models.Tenant, error)

	ListJobs(ctx context.Context, targetID uuid.UUID) ([]models.Job, error)
}

type CreateTenantInput struct {
	Domain     string          `json:"domain" validate:"required,fqdn"`
	Platform   models.Platform `json:"platform" validate:"required,oneof=woocommerce magento"`
	AdminEmail string          `json:"admin_email" validate:"omitempty,email"`
	Plan       PlanInput       `json:"plan" validate:"required"`
}

type PlanInput struct {
	Name                string `json:"name" validate:"required"`
	DiskLimitBytes      int64  `json:"disk_limit_bytes" validate:"gt=0"`
	BandwidthLimitBytes int64  `json:"bandwidth_limit_bytes" validate:"gt=0"`
	MemoryLimit         string `json:"memory_limit" validate:"required"`
	CPULimit            string `json:"cpu_limit" validate:"required"`
}

type TenantFilters struct {
	Status   models.TenantStatus
	Page     int
	PageSize int
}

type SubscriptionInput struct {
	State         models.SubscriptionState `json:"state" validate:"required,oneof=active past_due cancelled"`
	GraceDeadline *time.Time               `json:"grace_deadline"`
}

type tenantService struct {
	db          *gorm.DB
	tenantRepo  repository.TenantRepository
	jobRepo     repository.JobRepository
	asynqClient *asynq.Client
	validate    *validator.Validate
}

func NewTenantService(db *gorm.DB, tenantRepo repository.TenantRepository, jobRepo repository.JobRepository, client *asynq.Client) TenantService {
	return &tenantService{
		db:          db,
		tenantRepo:  tenantRepo,
		jobRepo:     jobRepo,
		asynqClient: client,
		validate:    validator.New(),
	}
}

var _ TenantService = (*tenantService)(nil)

func (s *tenantService) CreateTenant(ctx context.Context, input *CreateTenantInput) (*models.Tenant, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid tenant input")
	}

	var existing models.Tenant
	if err := s.tenantRepo.GetByDomain(ctx, input.Domain, &existing); err == nil {
		return nil, appErr.New(appErr.CodeConflict, "domain already registered")
	} else if !appErr.IsCode(err, appErr.CodeNotFound) {
		return nil, err
	}

	t := &models.Tenant{
		Domain:     input.Domain,
		Platform:   input.Platform,
		AdminEmail: input.AdminEmail,
		Status:     models.StatusPending,
		Plan: models.Plan{
			Name:                input.Plan.Name,
			DiskLimitBytes:      input.Plan.DiskLimitBytes,
			BandwidthLimitBytes: input.Plan.BandwidthLimitBytes,
			MemoryLimit:         input.Plan.MemoryLimit,
			CPULimit:            input.Plan.CPULimit,
		},
		SubscriptionState: models.SubscriptionActive,
	}
	if err := s.tenantRepo.Create(ctx, t); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, tasks.TypeTenantProvision, t.ID); err != nil {
		// The record stays pending; retry-provisioning re-enqueues it.
		_ = s.tenantRepo.SetFailure(ctx, t.ID, "enqueue provision task failed")
		return nil, err
	}

	logger.L().Info("tenant created and provisioning enqueued",
		zap.String("tenant_id", t.ID.String()),
		zap.String("domain", t.Domain),
		zap.String("platform", string(t.Platform)),
	)
	return t, nil
}

func (s *tenantService) GetTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	if err := s.tenantRepo.GetByID(ctx, tenantID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *tenantService) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	if err := s.tenantRepo.GetByDomain(ctx, domain, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *tenantService) ListTenants(ctx context.Context, filters *TenantFilters) ([]models.Tenant, error) {
	q := s.db.WithContext(ctx).Model(&models.Tenant{}).Order("created_at DESC")
	if filters != nil {
		if filters.Status != "" {
			q = q.Where("status = ?", filters.Status)
		}
		if filters.PageSize > 0 {
			page := filters.Page
			if page < 1 {
				page = 1
			}
			q = q.Limit(filters.PageSize).Offset((page - 1) * filters.PageSize)
		}
	}
	var out []models.Tenant
	if err := q.Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list tenants failed")
	}
	return out, nil
}

func (s *tenantService) SuspendTenant(ctx context.Context, tenantID uuid.UUID) error {
	return s.action(ctx, tenantID, tasks.TypeTenantSuspend, models.StatusActive)
}

func (s *tenantService) ReactivateTenant(ctx context.Context, tenantID uuid.UUID) error {
	return s.action(ctx, tenantID, tasks.TypeTenantReactivate, models.StatusSuspended)
}

func (s *tenantService) TerminateTenant(ctx context.Context, tenantID uuid.UUID) error {
	return s.action(ctx, tenantID, tasks.TypeTenantTerminate,
		models.StatusActive, models.StatusSuspended, models.StatusFailed)
}

// RetryProvisioning re-enqueues a provision task for a tenant whose last
// attempt failed. The worker's claim makes double-enqueues harmless.
func (s *tenantService) RetryProvisioning(ctx context.Context, tenantID uuid.UUID) error {
	return s.action(ctx, tenantID, tasks.TypeTenantProvision,
		models.StatusPending, models.StatusFailed)
}

func (s *tenantService) action(ctx context.Context, tenantID uuid.UUID, taskType string, allowed ...models.TenantStatus) error {
	var t models.Tenant
	if err := s.tenantRepo.GetByID(ctx, tenantID, &t); err != nil {
		return err
	}
	ok := false
	for _, st := range allowed {
		if t.Status == st {
			ok = true
			break
		}
	}
	if !ok {
		return appErr.New(appErr.CodeConflict, "tenant status "+string(t.Status)+" does not allow this action")
	}
	if err := s.enqueue(ctx, taskType, tenantID); err != nil {
		return err
	}
	logger.L().Info("tenant task enqueued",
		zap.String("tenant_id", tenantID.String()), zap.String("type", taskType))
	return nil
}

func (s *tenantService) UpdateSubscription(ctx context.Context, tenantID uuid.UUID, input *SubscriptionInput) (*models.Tenant, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid subscription input")
	}

	var t models.Tenant
	if err := s.tenantRepo.GetByID(ctx, tenantID, &t); err != nil {
		return nil, err
	}

	updates := map[string]any{"subscription_state": input.State}
	if input.State == models.SubscriptionActive {
		updates["grace_deadline"] = nil
	} else if input.GraceDeadline != nil {
		updates["grace_deadline"] = *input.GraceDeadline
	}
	res := s.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", tenantID).Updates(updates)
	if res.Error != nil {
		return nil, appErr.Wrap(res.Error, appErr.CodeInternal, "update subscription failed")
	}

	logger.L().Info("subscription updated",
		zap.String("tenant_id", tenantID.String()),
		zap.String("state", string(input.State)),
	)
	if err := s.tenantRepo.GetByID(ctx, tenantID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *tenantService) ListJobs(ctx context.Context, targetID uuid.UUID) ([]models.Job, error) {
	return s.jobRepo.ListByTarget(ctx, targetID)
}

func (s *tenantService) enqueue(ctx context.Context, taskType string, tenantID uuid.UUID) error {
	if s.asynqClient == nil {
		return appErr.New(appErr.CodeInternal, "task queue not configured")
	}
	task, err := tasks.NewTenantTask(taskType, tenantID)
	if err != nil {
		return err
	}
	if _, err := s.asynqClient.EnqueueContext(ctx, task); err != nil {
		logger.L().Error("enqueue task failed",
			zap.String("type", taskType), zap.String("tenant_id", tenantID.String()), zap.Error(err))
		return appErr.Wrap(err, appErr.CodeInternal, "enqueue task failed")
	}
	return nil
}
