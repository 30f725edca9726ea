// Package orchestrator sequences the lifecycle components that turn a
// signup record into a running, internet-reachable container stack, and the
// inverse operations: suspend, reactivate, terminate. Any failure in the
// ordered pipeline triggers reverse-order rollback through the components
// already executed.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/descriptor"
	"github.com/storegrid/engine/internal/edge"
	"github.com/storegrid/engine/internal/models"
	"github.com/storegrid/engine/internal/notify"
	"github.com/storegrid/engine/internal/ports"
	"github.com/storegrid/engine/internal/repository"
)

// StackManager is the slice of the container lifecycle manager the
// orchestrator needs.
type StackManager interface {
	Start(ctx context.Context, workspaceDir string) error
	Stop(ctx context.Context, workspaceDir string) error
	Destroy(ctx context.Context, workspaceDir string, removeVolumes bool) error
	WaitReady(ctx context.Context, workspaceDir string, attempts int, interval time.Duration) error
}

// EdgeRouter is the slice of the edge configurator the orchestrator needs.
type EdgeRouter interface {
	Configure(ctx context.Context, domain string, port int, staging bool) error
	Remove(ctx context.Context, domain string) error
	IssueCertificate(ctx context.Context, domain string) edge.TLSOutcome
}

// WorkspaceBuilder is the slice of the workspace layer the orchestrator needs.
type WorkspaceBuilder interface {
	TenantDir(tenantID string) string
	Create(path string, platform models.Platform) error
	Remove(path string) error
	Exists(path string) bool
}

// DescriptorRenderer renders a stack descriptor into a workspace.
type DescriptorRenderer interface {
	Render(platform models.Platform, workspaceDir string, in descriptor.Input) (string, error)
}

// Config bounds the orchestrator's allocation range and readiness budget.
type Config struct {
	PortRangeStart    int
	PortRangeEnd      int
	ReadinessAttempts int
	ReadinessInterval time.Duration
}

type Orchestrator struct {
	cfg      Config
	tenants  repository.TenantRepository
	alloc    *ports.Allocator
	builder  WorkspaceBuilder
	renderer DescriptorRenderer
	stacks   StackManager
	router   EdgeRouter
	notifier *notify.Notifier
}

func New(
	cfg Config,
	tenants repository.TenantRepository,
	alloc *ports.Allocator,
	builder WorkspaceBuilder,
	renderer DescriptorRenderer,
	stacks StackManager,
	router EdgeRouter,
	notifier *notify.Notifier,
) *Orchestrator {
	if cfg.ReadinessAttempts == 0 {
		cfg.ReadinessAttempts = 12
	}
	if cfg.ReadinessInterval == 0 {
		cfg.ReadinessInterval = 10 * time.Second
	}
	return &Orchestrator{
		cfg:      cfg,
		tenants:  tenants,
		alloc:    alloc,
		builder:  builder,
		renderer: renderer,
		stacks:   stacks,
		router:   router,
		notifier: notifier,
	}
}

func (o *Orchestrator) load(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	if err := o.tenants.GetByID(ctx, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (o *Orchestrator) welcomeMessage(t *models.Tenant, creds repository.Credentials) notify.Message {
	return notify.Message{
		To:      t.AdminEmail,
		Subject: "Your store is live",
		HTML: fmt.Sprintf(
			"<p>Your store at <a href=\"http://%s\">%s</a> is up and running.</p>"+
				"<p>Admin login: <b>%s</b></p>",
			t.Domain, t.Domain, creds.AdminUser),
	}
}
