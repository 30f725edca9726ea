// Package tasks binds the durable queue to the orchestrators. Each handler
// opens a job audit row, runs the orchestration, and closes the row with the
// outcome. Returning an error hands the retry decision to the queue.
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
)

// Task type names registered on the queue mux.
const (
	TypeTenantProvision  = "tenant:provision"
	TypeTenantSuspend    = "tenant:suspend"
	TypeTenantReactivate = "tenant:reactivate"
	TypeTenantTerminate  = "tenant:terminate"
)

// Audit target kinds.
const (
	TargetTenant  = "tenant"
	TargetStaging = "staging"
)

// TenantPayload is the payload for all tenant lifecycle tasks.
type TenantPayload struct {
	TenantID string `json:"tenant_id"`
}

// NewTenantTask builds a lifecycle task for the given type.
func NewTenantTask(taskType string, tenantID uuid.UUID) (*asynq.Task, error) {
	pb, err := json.Marshal(TenantPayload{TenantID: tenantID.String()})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "marshal tenant task payload failed")
	}
	return asynq.NewTask(taskType, pb), nil
}

// TenantLifecycle is the slice of the provisioning orchestrator the handlers
// drive.
type TenantLifecycle interface {
	Provision(ctx context.Context, tenantID uuid.UUID) error
	Suspend(ctx context.Context, tenantID uuid.UUID) error
	Reactivate(ctx context.Context, tenantID uuid.UUID) error
	Terminate(ctx context.Context, tenantID uuid.UUID) error
}

// StagingCascade deletes a tenant's staging environments before termination.
type StagingCascade interface {
	DeleteAllForTenant(ctx context.Context, tenantID uuid.UUID) error
}

// TenantTaskHandler handles tenant lifecycle tasks.
type TenantTaskHandler struct {
	lifecycle TenantLifecycle
	staging   StagingCascade
	jobs      repository.JobRepository
}

func NewTenantTaskHandler(lifecycle TenantLifecycle, staging StagingCascade, jobs repository.JobRepository) *TenantTaskHandler {
	return &TenantTaskHandler{lifecycle: lifecycle, staging: staging, jobs: jobs}
}

func (h *TenantTaskHandler) HandleProvision(ctx context.Context, t *asynq.Task) error {
	return h.run(ctx, t, models.OpProvision, h.lifecycle.Provision)
}

func (h *TenantTaskHandler) HandleSuspend(ctx context.Context, t *asynq.Task) error {
	return h.run(ctx, t, models.OpSuspend, h.lifecycle.Suspend)
}

func (h *TenantTaskHandler) HandleReactivate(ctx context.Context, t *asynq.Task) error {
	return h.run(ctx, t, models.OpReactivate, h.lifecycle.Reactivate)
}

// HandleTerminate cascades through staging environments before the parent
// stack goes down, so staging teardown failures surface before any
// irreversible production step.
func (h *TenantTaskHandler) HandleTerminate(ctx context.Context, t *asynq.Task) error {
	return h.run(ctx, t, models.OpTerminate, func(ctx context.Context, id uuid.UUID) error {
		if err := h.staging.DeleteAllForTenant(ctx, id); err != nil {
			return err
		}
		return h.lifecycle.Terminate(ctx, id)
	})
}

func (h *TenantTaskHandler) run(ctx context.Context, t *asynq.Task, op string, fn func(context.Context, uuid.UUID) error) error {
	id, err := parseTenantPayload(t)
	if err != nil {
		// A malformed payload never becomes valid; don't retry it.
		logger.L().Error("invalid tenant task payload", zap.String("type", t.Type()), zap.Error(err))
		return nil
	}

	log := logger.L().With(zap.String("tenant_id", id.String()), zap.String("operation", op))
	log.Info("tenant task started")

	job, err := h.jobs.Begin(ctx, id, TargetTenant, op)
	if err != nil {
		return err
	}

	runErr := fn(ctx, id)
	if err := h.jobs.Complete(ctx, job.ID, runErr); err != nil {
		log.Error("close job record failed", zap.Error(err))
	}

	if runErr != nil {
		log.Error("tenant task failed", zap.Error(runErr))
		if appErr.IsCode(runErr, appErr.CodeConflict) {
			// Someone else holds the claim or the tenant moved on; a retry
			// would only collide again.
			return nil
		}
		return runErr
	}
	log.Info("tenant task completed")
	return nil
}

func parseTenantPayload(t *asynq.Task) (uuid.UUID, error) {
	var p TenantPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return uuid.Nil, appErr.Wrap(err, appErr.CodeInvalid, "unmarshal task payload failed")
	}
	id, err := uuid.Parse(p.TenantID)
	if err != nil {
		return uuid.Nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid tenant id in payload")
	}
	return id, nil
}
