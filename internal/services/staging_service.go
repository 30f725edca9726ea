package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/storegrid/engine/internal/models"
	"github.com/storegrid/engine/internal/queue/tasks"
	"github.com/storegrid/engine/internal/repository"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

type StagingService interface {
	CreateStaging(ctx context.Context, tenantID uuid.UUID) error
	GetStaging(ctx context.Context, envID uuid.UUID) (*models.StagingEnvironment, error)
	ListStaging(ctx context.Context, tenantID uuid.UUID) ([]models.StagingEnvironment, error)
	PushStaging(ctx context.Context, envID uuid.UUID) error
	DeleteStaging(ctx context.Context, envID uuid.UUID) error
}

type stagingService struct {
	tenantRepo   repository.TenantRepository
	stagingRepo  repository.StagingRepository
	asynqClient  *asynq.Client
	maxPerTenant int
}

func NewStagingService(tenantRepo repository.TenantRepository, stagingRepo repository.StagingRepository, client *asynq.Client, maxPerTenant int) StagingService {
	return &stagingService{
		tenantRepo:   tenantRepo,
		stagingRepo:  stagingRepo,
		asynqClient:  client,
		maxPerTenant: maxPerTenant,
	}
}

var _ StagingService = (*stagingService)(nil)

// CreateStaging enqueues a clone after fail-fast checks. The worker rechecks
// both conditions under its claim; this only saves the caller a round trip
// through the queue.
func (s *stagingService) CreateStaging(ctx context.Context, tenantID uuid.UUID) error {
	var t models.Tenant
	if err := s.tenantRepo.GetByID(ctx, tenantID, &t); err != nil {
		return err
	}
	if t.Status != models.StatusActive {
		return appErr.New(appErr.CodeConflict, "tenant not active")
	}
	live, err := s.stagingRepo.CountLiveByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if live >= int64(s.maxPerTenant) {
		return appErr.New(appErr.CodeStagingQuotaExhausted, "staging environment limit reached")
	}

	task, err := tasks.NewStagingCreateTask(tenantID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, task, tenantID.String())
}

func (s *stagingService) GetStaging(ctx context.Context, envID uuid.UUID) (*models.StagingEnvironment, error) {
	var env models.StagingEnvironment
	if err := s.stagingRepo.GetByID(ctx, envID, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *stagingService) ListStaging(ctx context.Context, tenantID uuid.UUID) ([]models.StagingEnvironment, error) {
	return s.stagingRepo.ListByTenant(ctx, tenantID)
}

func (s *stagingService) PushStaging(ctx context.Context, envID uuid.UUID) error {
	var env models.StagingEnvironment
	if err := s.stagingRepo.GetByID(ctx, envID, &env); err != nil {
		return err
	}
	if env.Status != models.StagingActive {
		return appErr.New(appErr.CodeConflict, "staging environment not active")
	}

	task, err := tasks.NewStagingTask(tasks.TypeStagingPush, envID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, task, envID.String())
}

func (s *stagingService) DeleteStaging(ctx context.Context, envID uuid.UUID) error {
	var env models.StagingEnvironment
	if err := s.stagingRepo.GetByID(ctx, envID, &env); err != nil {
		return err
	}
	if env.Status == models.StagingDeleted {
		return nil
	}

	task, err := tasks.NewStagingTask(tasks.TypeStagingDelete, envID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, task, envID.String())
}

func (s *stagingService) enqueue(ctx context.Context, task *asynq.Task, target string) error {
	if s.asynqClient == nil {
		return appErr.New(appErr.CodeInternal, "task queue not configured")
	}
	if _, err := s.asynqClient.EnqueueContext(ctx, task); err != nil {
		logger.L().Error("enqueue task failed",
			zap.String("type", task.Type()), zap.String("target", target), zap.Error(err))
		return appErr.Wrap(err, appErr.CodeInternal, "enqueue task failed")
	}
	logger.L().Info("staging task enqueued", zap.String("type", task.Type()), zap.String("target", target))
	return nil
}
