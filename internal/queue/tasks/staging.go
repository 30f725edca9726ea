package tasks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/storegrid/engine/internal/models"
	"github.com/storegrid/engine/internal/repository"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	TypeStagingCreate = "staging:create"
	TypeStagingPush   = "staging:push"
	TypeStagingDelete = "staging:delete"
)

// StagingCreatePayload carries the parent tenant for a new clone.
type StagingCreatePayload struct {
	TenantID string `json:"tenant_id"`
}

// StagingPayload addresses an existing staging environment.
type StagingPayload struct {
	EnvironmentID string `json:"environment_id"`
}

func NewStagingCreateTask(tenantID uuid.UUID) (*asynq.Task, error) {
	pb, err := json.Marshal(StagingCreatePayload{TenantID: tenantID.String()})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "marshal staging task payload failed")
	}
	return asynq.NewTask(TypeStagingCreate, pb), nil
}

func NewStagingTask(taskType string, envID uuid.UUID) (*asynq.Task, error) {
	pb, err := json.Marshal(StagingPayload{EnvironmentID: envID.String()})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "marshal staging task payload failed")
	}
	return asynq.NewTask(taskType, pb), nil
}

// StagingLifecycle is the slice of the staging orchestrator the handlers
// drive.
type StagingLifecycle interface {
	Create(ctx context.Context, tenantID uuid.UUID) (*models.StagingEnvironment, error)
	Push(ctx context.Context, envID uuid.UUID) (backupPath string, err error)
	Delete(ctx context.Context, envID uuid.UUID) error
}

// StagingTaskHandler handles staging clone, push and delete tasks.
type StagingTaskHandler struct {
	staging StagingLifecycle
	jobs    repository.JobRepository
}

func NewStagingTaskHandler(staging StagingLifecycle, jobs repository.JobRepository) *StagingTaskHandler {
	return &StagingTaskHandler{staging: staging, jobs: jobs}
}

func (h *StagingTaskHandler) HandleCreate(ctx context.Context, t *asynq.Task) error {
	var p StagingCreatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid staging create payload", zap.Error(err))
		return nil
	}
	tenantID, err := uuid.Parse(p.TenantID)
	if err != nil {
		logger.L().Error("invalid tenant id in staging create payload", zap.Error(err))
		return nil
	}

	log := logger.L().With(zap.String("tenant_id", tenantID.String()))
	log.Info("staging create task started")

	job, err := h.jobs.Begin(ctx, tenantID, TargetTenant, models.OpStagingCreate)
	if err != nil {
		return err
	}

	env, runErr := h.staging.Create(ctx, tenantID)
	if env != nil {
		meta, _ := json.Marshal(map[string]string{"environment_id": env.ID.String(), "domain": env.Domain})
		if err := h.jobs.AttachMeta(ctx, job.ID, datatypes.JSON(meta)); err != nil {
			log.Warn("attach job meta failed", zap.Error(err))
		}
	}
	if err := h.jobs.Complete(ctx, job.ID, runErr); err != nil {
		log.Error("close job record failed", zap.Error(err))
	}

	if runErr != nil {
		log.Error("staging create task failed", zap.Error(runErr))
		if appErr.IsCode(runErr, appErr.CodeStagingQuotaExhausted) || appErr.IsCode(runErr, appErr.CodeConflict) {
			return nil
		}
		return runErr
	}
	log.Info("staging create task completed", zap.String("environment_id", env.ID.String()))
	return nil
}

func (h *StagingTaskHandler) HandlePush(ctx context.Context, t *asynq.Task) error {
	envID, ok := parseStagingPayload(t)
	if !ok {
		return nil
	}

	log := logger.L().With(zap.String("environment_id", envID.String()))
	log.Info("staging push task started")

	job, err := h.jobs.Begin(ctx, envID, TargetStaging, models.OpStagingPush)
	if err != nil {
		return err
	}

	backupPath, runErr := h.staging.Push(ctx, envID)
	if backupPath != "" {
		// Record where the pre-push production snapshot went; the operator
		// needs it to roll a bad push back.
		meta, _ := json.Marshal(map[string]string{"backup_path": backupPath})
		if err := h.jobs.AttachMeta(ctx, job.ID, datatypes.JSON(meta)); err != nil {
			log.Warn("attach job meta failed", zap.Error(err))
		}
	}
	if err := h.jobs.Complete(ctx, job.ID, runErr); err != nil {
		log.Error("close job record failed", zap.Error(err))
	}

	if runErr != nil {
		log.Error("staging push task failed", zap.Error(runErr))
		if appErr.IsCode(runErr, appErr.CodeConflict) {
			return nil
		}
		return runErr
	}
	log.Info("staging push task completed", zap.String("backup_path", backupPath))
	return nil
}

func (h *StagingTaskHandler) HandleDelete(ctx context.Context, t *asynq.Task) error {
	envID, ok := parseStagingPayload(t)
	if !ok {
		return nil
	}

	log := logger.L().With(zap.String("environment_id", envID.String()))
	log.Info("staging delete task started")

	job, err := h.jobs.Begin(ctx, envID, TargetStaging, models.OpStagingDelete)
	if err != nil {
		return err
	}
	runErr := h.staging.Delete(ctx, envID)
	if err := h.jobs.Complete(ctx, job.ID, runErr); err != nil {
		log.Error("close job record failed", zap.Error(err))
	}
	if runErr != nil {
		log.Error("staging delete task failed", zap.Error(runErr))
		return runErr
	}
	log.Info("staging delete task completed")
	return nil
}

func parseStagingPayload(t *asynq.Task) (uuid.UUID, bool) {
	var p StagingPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid staging task payload", zap.String("type", t.Type()), zap.Error(err))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(p.EnvironmentID)
	if err != nil {
		logger.L().Error("invalid environment id in staging payload", zap.Error(err))
		return uuid.Nil, false
	}
	return id, true
}
