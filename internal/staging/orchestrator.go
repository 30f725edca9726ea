// Package staging clones a live tenant's stack (files, database, routes)
// into an isolated staging instance, and pushes a staging instance back to
// production. Staging failures have a lower blast radius than production
// failures, so a failed operation marks the environment failed and aborts
// without auto-rollback; the operator cleans up explicitly.
package staging

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/descriptor"
	"github.com/storegrid/engine/internal/execx"
	"github.com/storegrid/engine/internal/metrics"
	"github.com/storegrid/engine/internal/models"
	"github.com/storegrid/engine/internal/ports"
	"github.com/storegrid/engine/internal/repository"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

// Platform files a push must never overwrite in production: generated
// credentials and platform config live here.
var pushExclusions = map[models.Platform][]string{
	models.PlatformWooCommerce: {"wp-config.php"},
	models.PlatformMagento:     {filepath.Join("app", "etc", "env.php")},
}

// StackManager is the slice of the container lifecycle manager staging needs.
type StackManager interface {
	Start(ctx context.Context, workspaceDir string) error
	Destroy(ctx context.Context, workspaceDir string, removeVolumes bool) error
	Exec(ctx context.Context, workspaceDir, service string, timeout time.Duration, stdin io.Reader, stdout io.Writer, cmd ...string) (execx.Result, error)
}

// EdgeRouter is the slice of the edge configurator staging needs.
type EdgeRouter interface {
	Configure(ctx context.Context, domain string, port int, staging bool) error
	Remove(ctx context.Context, domain string) error
}

// WorkspaceBuilder is the slice of the workspace layer staging needs.
type WorkspaceBuilder interface {
	TenantDir(tenantID string) string
	StagingDir(tenantID string, seq int) string
	Create(path string, platform models.Platform) error
	Remove(path string) error
	Exists(path string) bool
	Mirror(src, dst string, excludes []string) error
	Backup(src, backupDir string) (string, error)
}

// DescriptorRenderer renders a stack descriptor into a workspace.
type DescriptorRenderer interface {
	Render(platform models.Platform, workspaceDir string, in descriptor.Input) (string, error)
}

// Config bounds staging allocation and limits.
type Config struct {
	PortRangeStart int
	PortRangeEnd   int
	MaxPerTenant   int
	BackupDir      string
}

type Orchestrator struct {
	cfg      Config
	tenants  repository.TenantRepository
	envs     repository.StagingRepository
	alloc    *ports.Allocator
	builder  WorkspaceBuilder
	renderer DescriptorRenderer
	stacks   StackManager
	router   EdgeRouter
}

func New(
	cfg Config,
	tenants repository.TenantRepository,
	envs repository.StagingRepository,
	alloc *ports.Allocator,
	builder WorkspaceBuilder,
	renderer DescriptorRenderer,
	stacks StackManager,
	router EdgeRouter,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		tenants:  tenants,
		envs:     envs,
		alloc:    alloc,
		builder:  builder,
		renderer: renderer,
		stacks:   stacks,
		router:   router,
	}
}

// Create clones the tenant's production stack into a new staging instance.
func (o *Orchestrator) Create(ctx context.Context, tenantID uuid.UUID) (*models.StagingEnvironment, error) {
	var t models.Tenant
	if err := o.tenants.GetByID(ctx, tenantID, &t); err != nil {
		return nil, err
	}
	if t.Status != models.StatusActive {
		return nil, appErr.New(appErr.CodeConflict, "tenant not active")
	}

	live, err := o.envs.CountLiveByTenant(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if live >= int64(o.cfg.MaxPerTenant) {
		return nil, appErr.New(appErr.CodeStagingQuotaExhausted, "staging environment limit reached")
	}

	seq, err := o.envs.NextSeq(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	port, err := o.alloc.Allocate(ctx, o.cfg.PortRangeStart, o.cfg.PortRangeEnd)
	if err != nil {
		return nil, err
	}

	env := &models.StagingEnvironment{
		TenantID: t.ID,
		Seq:      seq,
		Port:     port,
		Domain:   t.StagingDomain(seq),
		Status:   models.StagingCreating,
	}
	if err := o.envs.Create(ctx, env); err != nil {
		return nil, err
	}

	log := logger.L().With(
		zap.String("tenant_id", t.ID.String()),
		zap.String("staging_domain", env.Domain),
		zap.Int("seq", seq),
	)
	log.Info("staging clone started")

	if err := o.clone(ctx, &t, env); err != nil {
		log.Error("staging clone failed", zap.Error(err))
		_ = o.envs.SetFailure(ctx, env.ID, err.Error())
		metrics.StagingSyncs.WithLabelValues(models.OpStagingCreate, "failed").Inc()
		return env, err
	}

	if err := o.envs.UpdateStatus(ctx, env.ID, models.StagingCreating, models.StagingActive); err != nil {
		return env, err
	}
	env.Status = models.StagingActive
	metrics.StagingSyncs.WithLabelValues(models.OpStagingCreate, "completed").Inc()
	log.Info("staging clone completed", zap.Int("port", port))
	return env, nil
}

func (o *Orchestrator) clone(ctx context.Context, t *models.Tenant, env *models.StagingEnvironment) error {
	prodDir := o.builder.TenantDir(t.ID.String())
	stagingDir := o.builder.StagingDir(t.ID.String(), env.Seq)

	if err := o.builder.Create(stagingDir, t.Platform); err != nil {
		return err
	}

	// One-way, deletion-syncing mirror of the production file volume.
	if err := o.builder.Mirror(
		filepath.Join(prodDir, "volumes", "files"),
		filepath.Join(stagingDir, "volumes", "files"),
		nil,
	); err != nil {
		return err
	}

	if _, err := o.renderer.Render(t.Platform, stagingDir, o.descriptorInput(t, env)); err != nil {
		return err
	}
	if err := o.stacks.Start(ctx, stagingDir); err != nil {
		return err
	}

	// Clone the production database into the staging database, then point
	// the platform's absolute-URL references at the staging domain.
	if err := o.cloneDatabase(ctx, t, prodDir, stagingDir); err != nil {
		return err
	}
	if err := o.rewriteDomains(ctx, t, stagingDir, t.Domain, env.Domain); err != nil {
		return err
	}

	// Dedicated vhost marking traffic as non-production.
	return o.router.Configure(ctx, env.Domain, env.Port, true)
}

// Push mirrors a staging instance back into production: database first
// (with domain references rewritten back), then files, excluding platform
// secret files. A backup of the production file tree is taken before the
// mirror step; its path is returned so the job audit records it.
func (o *Orchestrator) Push(ctx context.Context, envID uuid.UUID) (backupPath string, err error) {
	var env models.StagingEnvironment
	if err := o.envs.GetByID(ctx, envID, &env); err != nil {
		return "", err
	}
	var t models.Tenant
	if err := o.tenants.GetByID(ctx, env.TenantID, &t); err != nil {
		return "", err
	}

	if err := o.envs.UpdateStatus(ctx, env.ID, models.StagingActive, models.StagingSyncing); err != nil {
		return "", err
	}

	log := logger.L().With(zap.String("tenant_id", t.ID.String()), zap.String("staging_domain", env.Domain))
	log.Info("staging push started")

	backupPath, err = o.push(ctx, &t, &env)
	if err != nil {
		log.Error("staging push failed", zap.Error(err))
		_ = o.envs.SetFailure(ctx, env.ID, err.Error())
		metrics.StagingSyncs.WithLabelValues(models.OpStagingPush, "failed").Inc()
		return backupPath, err
	}

	if err := o.envs.UpdateStatus(ctx, env.ID, models.StagingSyncing, models.StagingActive); err != nil {
		return backupPath, err
	}
	_ = o.envs.TouchPush(ctx, env.ID)
	metrics.StagingSyncs.WithLabelValues(models.OpStagingPush, "completed").Inc()
	log.Info("staging push completed", zap.String("backup", backupPath))
	return backupPath, nil
}

func (o *Orchestrator) push(ctx context.Context, t *models.Tenant, env *models.StagingEnvironment) (string, error) {
	prodDir := o.builder.TenantDir(t.ID.String())
	stagingDir := o.builder.StagingDir(t.ID.String(), env.Seq)
	prodFiles := filepath.Join(prodDir, "volumes", "files")
	stagingFiles := filepath.Join(stagingDir, "volumes", "files")

	// Bound the blast radius of a bad push before overwriting anything.
	backupPath, err := o.builder.Backup(prodFiles, o.cfg.BackupDir)
	if err != nil {
		return "", err
	}

	if err := o.cloneDatabase(ctx, t, stagingDir, prodDir); err != nil {
		return backupPath, err
	}
	if err := o.rewriteDomains(ctx, t, prodDir, env.Domain, t.Domain); err != nil {
		return backupPath, err
	}

	if err := o.builder.Mirror(stagingFiles, prodFiles, pushExclusions[t.Platform]); err != nil {
		return backupPath, err
	}
	return backupPath, nil
}

// Delete tears a staging environment down: containers with volumes,
// workspace tree, vhost, then the record is marked deleted.
func (o *Orchestrator) Delete(ctx context.Context, envID uuid.UUID) error {
	var env models.StagingEnvironment
	if err := o.envs.GetByID(ctx, envID, &env); err != nil {
		return err
	}
	if env.Status == models.StagingDeleted {
		return nil
	}

	dir := o.builder.StagingDir(env.TenantID.String(), env.Seq)
	if o.builder.Exists(dir) {
		if err := o.stacks.Destroy(ctx, dir, true); err != nil {
			logger.L().Error("staging delete: destroy containers failed", zap.Error(err))
		}
		if err := o.builder.Remove(dir); err != nil {
			return err
		}
	}
	if err := o.router.Remove(ctx, env.Domain); err != nil {
		return err
	}
	if err := o.envs.MarkDeleted(ctx, env.ID); err != nil {
		return err
	}
	metrics.StagingSyncs.WithLabelValues(models.OpStagingDelete, "completed").Inc()
	return nil
}

// DeleteAllForTenant removes every live staging environment a tenant owns.
// Termination cascades through this before destroying the parent stack.
func (o *Orchestrator) DeleteAllForTenant(ctx context.Context, tenantID uuid.UUID) error {
	envs, err := o.envs.ListByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, env := range envs {
		if env.Status == models.StagingDeleted {
			continue
		}
		if err := o.Delete(ctx, env.ID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) descriptorInput(t *models.Tenant, env *models.StagingEnvironment) descriptor.Input {
	return descriptor.Input{
		Project:     "tenant-" + t.ID.String()[:8] + "-staging-" + strconv.Itoa(env.Seq),
		Domain:      env.Domain,
		Port:        env.Port,
		DBName:      t.DBName,
		DBUser:      t.DBUser,
		DBPassword:  t.DBPassword,
		MemoryLimit: t.Plan.MemoryLimit,
		CPULimit:    t.Plan.CPULimit,
	}
}
