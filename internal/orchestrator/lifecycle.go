package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

// Suspend stops a tenant's containers without removing volumes: the stack
// is resumable and all data is preserved.
func (o *Orchestrator) Suspend(ctx context.Context, tenantID uuid.UUID) error {
	t, err := o.load(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := o.tenants.UpdateStatus(ctx, t.ID, models.StatusActive, models.StatusSuspended); err != nil {
		return err
	}

	dir := o.builder.TenantDir(t.ID.String())
	if err := o.stacks.Destroy(ctx, dir, false); err != nil {
		_ = o.tenants.SetFailure(ctx, t.ID, err.Error())
		return err
	}
	logger.L().Info("tenant suspended", zap.String("tenant_id", t.ID.String()))
	return nil
}

// Reactivate brings a suspended tenant back up. The status claim happens
// first so two workers cannot both drive the same stack; a failed start
// reverts the claim.
func (o *Orchestrator) Reactivate(ctx context.Context, tenantID uuid.UUID) error {
	t, err := o.load(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := o.tenants.UpdateStatus(ctx, t.ID, models.StatusSuspended, models.StatusActive); err != nil {
		return err
	}

	dir := o.builder.TenantDir(t.ID.String())
	if err := o.stacks.Start(ctx, dir); err != nil {
		if revErr := o.tenants.UpdateStatus(ctx, t.ID, models.StatusActive, models.StatusSuspended); revErr != nil {
			logger.L().Error("reverting reactivation claim failed", zap.Error(revErr))
		}
		_ = o.tenants.SetFailure(ctx, t.ID, err.Error())
		return err
	}
	logger.L().Info("tenant reactivated", zap.String("tenant_id", t.ID.String()))
	return nil
}

// Terminate irreversibly destroys a tenant's stack: containers with
// volumes, workspace tree, and edge vhost. The caller must have deleted the
// tenant's staging environments first (ownership cascade). Partial teardown
// failures are logged and the teardown continues; the terminated status is
// only persisted when every step succeeded.
func (o *Orchestrator) Terminate(ctx context.Context, tenantID uuid.UUID) error {
	t, err := o.load(ctx, tenantID)
	if err != nil {
		return err
	}
	switch t.Status {
	case models.StatusActive, models.StatusSuspended, models.StatusFailed:
	default:
		return appErr.New(appErr.CodeConflict, "tenant not terminable in status "+string(t.Status))
	}

	log := logger.L().With(zap.String("tenant_id", t.ID.String()), zap.String("domain", t.Domain))
	dir := o.builder.TenantDir(t.ID.String())

	var firstErr error
	if o.builder.Exists(dir) {
		if err := o.stacks.Destroy(ctx, dir, true); err != nil {
			log.Error("terminate: destroy containers failed", zap.Error(err))
			firstErr = err
		}
		if err := o.builder.Remove(dir); err != nil {
			log.Error("terminate: remove workspace failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := o.router.Remove(ctx, t.Domain); err != nil {
		log.Error("terminate: remove vhost failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		_ = o.tenants.SetFailure(ctx, t.ID, firstErr.Error())
		return firstErr
	}

	if err := o.tenants.UpdateStatus(ctx, t.ID, t.Status, models.StatusTerminated); err != nil {
		return err
	}
	log.Info("tenant terminated")
	return nil
}
