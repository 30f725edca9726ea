package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/descriptor"
	"github.com/storegrid/engine/internal/metrics"
	"github.com/storegrid/engine/internal/models"
	"github.com/storegrid/engine/internal/repository"
	"github.com/storegrid/engine/internal/secrets"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

// provisionState tracks which components have executed, so rollback only
// touches what this job created.
type provisionState struct {
	workspaceDir      string
	creds             repository.Credentials
	credsGenerated    bool
	credsPersisted    bool
	workspaceCreated  bool
	containersStarted bool
	vhostConfigured   bool
}

// Provision runs the full pipeline for a tenant in status pending, or
// re-runs it for a tenant in status failed (the intended recovery path,
// which requires the prior rollback to have removed the workspace).
func (o *Orchestrator) Provision(ctx context.Context, tenantID uuid.UUID) error {
	t, err := o.load(ctx, tenantID)
	if err != nil {
		return err
	}

	// Claim the tenant. The conditional update doubles as the per-tenant
	// lock: a second worker loses the race and stops here.
	switch t.Status {
	case models.StatusPending, models.StatusFailed:
		if err := o.tenants.UpdateStatus(ctx, t.ID, t.Status, models.StatusProvisioning); err != nil {
			return err
		}
		t.Status = models.StatusProvisioning
	default:
		return appErr.New(appErr.CodeConflict, "tenant not provisionable in status "+string(t.Status))
	}

	log := logger.L().With(zap.String("tenant_id", t.ID.String()), zap.String("domain", t.Domain))
	log.Info("provisioning started")

	st := &provisionState{}
	if err := o.runPipeline(ctx, t, st); err != nil {
		log.Error("provisioning failed, rolling back", zap.Error(err))
		o.rollback(ctx, t, st)
		if stErr := o.tenants.UpdateStatus(ctx, t.ID, models.StatusProvisioning, models.StatusFailed); stErr != nil {
			log.Error("persisting failed status failed", zap.Error(stErr))
		}
		if msgErr := o.tenants.SetFailure(ctx, t.ID, err.Error()); msgErr != nil {
			log.Error("persisting failure message failed", zap.Error(msgErr))
		}
		metrics.ProvisionJobs.WithLabelValues("failed").Inc()
		return err
	}

	if err := o.tenants.UpdateStatus(ctx, t.ID, models.StatusProvisioning, models.StatusActive); err != nil {
		return err
	}
	if err := o.tenants.SetFailure(ctx, t.ID, ""); err != nil {
		log.Warn("clearing failure message failed", zap.Error(err))
	}
	metrics.ProvisionJobs.WithLabelValues("completed").Inc()
	log.Info("provisioning completed", zap.Int("port", t.Port))

	// Best-effort welcome notification; failure never fails the job.
	if t.AdminEmail != "" {
		_ = o.notifier.Notify(ctx, t.ID, models.NotifyWelcome, o.welcomeMessage(t, st.creds))
	}
	return nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, t *models.Tenant, st *provisionState) error {
	// 1. allocate port if the tenant does not hold one yet
	if t.Port == 0 {
		port, err := o.alloc.Allocate(ctx, o.cfg.PortRangeStart, o.cfg.PortRangeEnd)
		if err != nil {
			return err
		}
		if err := o.tenants.SetPort(ctx, t.ID, port); err != nil {
			return err
		}
		t.Port = port
	}

	// 2. create workspace; an existing tree means a credential/data
	// collision risk, so abort rather than reuse
	st.workspaceDir = o.builder.TenantDir(t.ID.String())
	if err := o.builder.Create(st.workspaceDir, t.Platform); err != nil {
		return err
	}
	st.workspaceCreated = true

	// 3. generate per-tenant secrets; a caller-supplied admin password is
	// honored, everything else is generated
	if t.HasCredentials() {
		st.creds = repository.Credentials{
			DBName:        t.DBName,
			DBUser:        t.DBUser,
			DBPassword:    t.DBPassword,
			AdminUser:     t.AdminUser,
			AdminPassword: t.AdminPassword,
		}
		st.credsPersisted = true
	} else {
		creds, err := secrets.Generate(t.ID, t.AdminPassword)
		if err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "generate credentials failed")
		}
		st.creds = creds
		st.credsGenerated = true
	}

	// 4. render descriptor
	if _, err := o.renderer.Render(t.Platform, st.workspaceDir, o.descriptorInput(t, st.creds)); err != nil {
		return err
	}

	// 5. re-validate port freshness; if it was taken since allocation,
	// reallocate and re-render the descriptor in place
	port, changed, err := o.alloc.Revalidate(ctx, t.Port, o.cfg.PortRangeStart, o.cfg.PortRangeEnd)
	if err != nil {
		return err
	}
	if changed {
		if err := o.tenants.SetPort(ctx, t.ID, port); err != nil {
			return err
		}
		t.Port = port
		if _, err := o.renderer.Render(t.Platform, st.workspaceDir, o.descriptorInput(t, st.creds)); err != nil {
			return err
		}
	}

	// 6. start containers
	if err := o.stacks.Start(ctx, st.workspaceDir); err != nil {
		return err
	}
	st.containersStarted = true

	// 7. edge router vhost + best-effort TLS
	if err := o.router.Configure(ctx, t.Domain, t.Port, false); err != nil {
		return err
	}
	st.vhostConfigured = true
	tls := o.router.IssueCertificate(ctx, t.Domain)
	if err := o.tenants.SetTLSOutcome(ctx, t.ID, tls.Degraded, tls.Reason); err != nil {
		return err
	}
	if tls.Degraded {
		metrics.TLSDegraded.Inc()
	}

	// 8. readiness probe
	if err := o.stacks.WaitReady(ctx, st.workspaceDir, o.cfg.ReadinessAttempts, o.cfg.ReadinessInterval); err != nil {
		return err
	}

	// 9. persist generated credentials
	if st.credsGenerated {
		if err := o.tenants.SaveCredentials(ctx, t.ID, st.creds); err != nil {
			return err
		}
		st.credsPersisted = true
	}

	return nil
}

func (o *Orchestrator) descriptorInput(t *models.Tenant, creds repository.Credentials) descriptor.Input {
	return descriptor.Input{
		Project:     "tenant-" + t.ID.String()[:8],
		Domain:      t.Domain,
		Port:        t.Port,
		DBName:      creds.DBName,
		DBUser:      creds.DBUser,
		DBPassword:  creds.DBPassword,
		MemoryLimit: t.Plan.MemoryLimit,
		CPULimit:    t.Plan.CPULimit,
	}
}

// rollback unwinds the pipeline in reverse order: destroy containers with
// volumes, delete the workspace tree, remove the vhost and reload the edge
// router, discard generated credentials. Rollback errors are logged but
// never mask the original failure. After a successful rollback the
// workspace is fully gone, which is what makes re-running a failed tenant
// safe.
func (o *Orchestrator) rollback(ctx context.Context, t *models.Tenant, st *provisionState) {
	log := logger.L().With(zap.String("tenant_id", t.ID.String()))

	if st.containersStarted {
		if err := o.stacks.Destroy(ctx, st.workspaceDir, true); err != nil {
			log.Error("rollback: destroy containers failed", zap.Error(err))
		}
	}
	if st.workspaceCreated {
		if err := o.builder.Remove(st.workspaceDir); err != nil {
			log.Error("rollback: remove workspace failed", zap.Error(err))
		}
	}
	if st.vhostConfigured {
		if err := o.router.Remove(ctx, t.Domain); err != nil {
			log.Error("rollback: remove vhost failed", zap.Error(err))
		}
	}
	if st.credsGenerated {
		st.creds = repository.Credentials{}
		if st.credsPersisted {
			if err := o.tenants.ClearCredentials(ctx, t.ID); err != nil {
				log.Error("rollback: clear credentials failed", zap.Error(err))
			}
		}
	}
}
