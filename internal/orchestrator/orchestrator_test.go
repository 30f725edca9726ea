package orchestrator

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/storegrid/engine/internal/descriptor"
	"github.com/storegrid/engine/internal/edge"
	"github.com/storegrid/engine/internal/models"
	"github.com/storegrid/engine/internal/notify"
	"github.com/storegrid/engine/internal/ports"
	"github.com/storegrid/engine/internal/repository"
	"github.com/storegrid/engine/internal/workspace"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

// fakeTenantRepo is an in-memory TenantRepository with the same conditional
// update semantics the real one has.
type fakeTenantRepo struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*models.Tenant
}

func newFakeTenantRepo(ts ...*models.Tenant) *fakeTenantRepo {
	r := &fakeTenantRepo{tenants: map[uuid.UUID]*models.Tenant{}}
	for _, t := range ts {
		r.tenants[t.ID] = t
	}
	return r
}

func (r *fakeTenantRepo) get(id uuid.UUID) (*models.Tenant, error) {
	t, ok := r.tenants[id]
	if !ok {
		return nil, appErr.New(appErr.CodeNotFound, "tenant not found")
	}
	return t, nil
}

func (r *fakeTenantRepo) Create(ctx context.Context, obj *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if obj.ID == uuid.Nil {
		obj.ID = uuid.New()
	}
	r.tenants[obj.ID] = obj
	return nil
}

func (r *fakeTenantRepo) GetByID(ctx context.Context, id any, dest *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id.(uuid.UUID))
	if err != nil {
		return err
	}
	*dest = *t
	return nil
}

func (r *fakeTenantRepo) Update(ctx context.Context, obj *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[obj.ID] = obj
	return nil
}

func (r *fakeTenantRepo) Delete(ctx context.Context, id any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, id.(uuid.UUID))
	return nil
}

func (r *fakeTenantRepo) GetByDomain(ctx context.Context, domain string, dest *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.Domain == domain {
			*dest = *t
			return nil
		}
	}
	return appErr.New(appErr.CodeNotFound, "tenant not found")
}

func (r *fakeTenantRepo) ListByStatus(ctx context.Context, status models.TenantStatus) ([]models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Tenant
	for _, t := range r.tenants {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeTenantRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.TenantStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !models.CanTransition(from, to) {
		return appErr.New(appErr.CodeInvalid, "illegal tenant status transition")
	}
	t, err := r.get(id)
	if err != nil {
		return err
	}
	if t.Status != from {
		return appErr.New(appErr.CodeConflict, "tenant not in expected status "+string(from))
	}
	t.Status = to
	return nil
}

func (r *fakeTenantRepo) SetPort(ctx context.Context, id uuid.UUID, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id)
	if err != nil {
		return err
	}
	t.Port = port
	return nil
}

func (r *fakeTenantRepo) SetFailure(ctx context.Context, id uuid.UUID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id)
	if err != nil {
		return err
	}
	t.LastError = message
	return nil
}

func (r *fakeTenantRepo) SaveCredentials(ctx context.Context, id uuid.UUID, creds repository.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id)
	if err != nil {
		return err
	}
	if t.DBPassword != "" {
		return appErr.New(appErr.CodeConflict, "tenant credentials already set")
	}
	t.DBName, t.DBUser, t.DBPassword = creds.DBName, creds.DBUser, creds.DBPassword
	t.AdminUser, t.AdminPassword = creds.AdminUser, creds.AdminPassword
	return nil
}

func (r *fakeTenantRepo) ClearCredentials(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id)
	if err != nil {
		return err
	}
	t.DBName, t.DBUser, t.DBPassword, t.AdminUser, t.AdminPassword = "", "", "", "", ""
	return nil
}

func (r *fakeTenantRepo) SetTLSOutcome(ctx context.Context, id uuid.UUID, degraded bool, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.get(id)
	if err != nil {
		return err
	}
	t.TLSDegraded, t.TLSDegradedReason = degraded, reason
	return nil
}

func (r *fakeTenantRepo) snapshot(t *testing.T, id uuid.UUID) models.Tenant {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	tn, err := r.get(id)
	require.NoError(t, err)
	return *tn
}

type fakeStacks struct {
	started      []string
	destroyed    []string
	destroyedVol []bool
	waited       []string
	startErr     error
	waitErr      error
}

func (s *fakeStacks) Start(ctx context.Context, dir string) error {
	s.started = append(s.started, dir)
	return s.startErr
}

func (s *fakeStacks) Stop(ctx context.Context, dir string) error { return nil }

func (s *fakeStacks) Destroy(ctx context.Context, dir string, removeVolumes bool) error {
	s.destroyed = append(s.destroyed, dir)
	s.destroyedVol = append(s.destroyedVol, removeVolumes)
	return nil
}

func (s *fakeStacks) WaitReady(ctx context.Context, dir string, attempts int, interval time.Duration) error {
	s.waited = append(s.waited, dir)
	return s.waitErr
}

type fakeEdge struct {
	configured map[string]int
	removed    []string
	configErr  error
	tls        edge.TLSOutcome
}

func newFakeEdge() *fakeEdge { return &fakeEdge{configured: map[string]int{}} }

func (e *fakeEdge) Configure(ctx context.Context, domain string, port int, staging bool) error {
	if e.configErr != nil {
		return e.configErr
	}
	e.configured[domain] = port
	return nil
}

func (e *fakeEdge) Remove(ctx context.Context, domain string) error {
	e.removed = append(e.removed, domain)
	return nil
}

func (e *fakeEdge) IssueCertificate(ctx context.Context, domain string) edge.TLSOutcome {
	return e.tls
}

type fakeRenderer struct {
	inputs []descriptor.Input
	err    error
}

func (r *fakeRenderer) Render(platform models.Platform, dir string, in descriptor.Input) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.inputs = append(r.inputs, in)
	return dir + "/" + descriptor.FileName, nil
}

type fakeMailer struct {
	sent []notify.Message
}

func (m *fakeMailer) Send(ctx context.Context, msg notify.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type memNotificationRepo struct {
	records []string
}

func (r *memNotificationRepo) SentSince(ctx context.Context, tenantID uuid.UUID, kind string, since time.Time) (bool, error) {
	for _, k := range r.records {
		if k == kind {
			return true, nil
		}
	}
	return false, nil
}

func (r *memNotificationRepo) Record(ctx context.Context, tenantID uuid.UUID, kind string) error {
	r.records = append(r.records, kind)
	return nil
}

type memLedger struct {
	used map[int]bool
}

func (l *memLedger) InUse(ctx context.Context, port int) (bool, error) { return l.used[port], nil }

type harness struct {
	orch    *Orchestrator
	repo    *fakeTenantRepo
	stacks  *fakeStacks
	router  *fakeEdge
	builder *workspace.Builder
	mailer  *fakeMailer
	busy    map[int]bool
}

func newHarness(t *testing.T, tenants ...*models.Tenant) *harness {
	t.Helper()
	h := &harness{
		repo:    newFakeTenantRepo(tenants...),
		stacks:  &fakeStacks{},
		router:  newFakeEdge(),
		builder: workspace.NewBuilder(t.TempDir()),
		mailer:  &fakeMailer{},
		busy:    map[int]bool{},
	}
	alloc := ports.NewAllocatorWithProber(&memLedger{used: map[int]bool{}}, func(p int) bool { return h.busy[p] })
	notifier := notify.NewNotifier(h.mailer, &memNotificationRepo{})
	h.orch = New(
		Config{PortRangeStart: 8001, PortRangeEnd: 8010, ReadinessAttempts: 1, ReadinessInterval: time.Millisecond},
		h.repo, alloc, h.builder, &fakeRenderer{}, h.stacks, h.router, notifier,
	)
	return h
}

func pendingTenant() *models.Tenant {
	return &models.Tenant{
		ID:         uuid.New(),
		Domain:     "shop.example.com",
		Platform:   models.PlatformWooCommerce,
		Status:     models.StatusPending,
		AdminEmail: "owner@example.com",
		Plan:       models.Plan{Name: "basic", DiskLimitBytes: 1 << 30, BandwidthLimitBytes: 10 << 30, MemoryLimit: "1g", CPULimit: "1"},
	}
}

func TestProvisionHappyPath(t *testing.T) {
	tn := pendingTenant()
	h := newHarness(t, tn)

	require.NoError(t, h.orch.Provision(context.Background(), tn.ID))

	got := h.repo.snapshot(t, tn.ID)
	require.Equal(t, models.StatusActive, got.Status)
	require.Equal(t, 8001, got.Port)
	require.True(t, got.HasCredentials())
	require.False(t, got.TLSDegraded)
	require.Empty(t, got.LastError)

	dir := h.builder.TenantDir(tn.ID.String())
	require.True(t, h.builder.Exists(dir))
	require.Equal(t, []string{dir}, h.stacks.started)
	require.Equal(t, []string{dir}, h.stacks.waited)
	require.Equal(t, 8001, h.router.configured["shop.example.com"])

	require.Len(t, h.mailer.sent, 1)
	require.Equal(t, "owner@example.com", h.mailer.sent[0].To)
}

func TestProvisionRefusedOutsideStartableStatuses(t *testing.T) {
	tn := pendingTenant()
	tn.Status = models.StatusActive
	h := newHarness(t, tn)

	err := h.orch.Provision(context.Background(), tn.ID)
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeConflict))
	require.Empty(t, h.stacks.started)
}

func TestProvisionStartFailureRollsBack(t *testing.T) {
	tn := pendingTenant()
	h := newHarness(t, tn)
	h.stacks.startErr = appErr.New(appErr.CodeExternalToolFailure, "compose up failed")

	err := h.orch.Provision(context.Background(), tn.ID)
	require.Error(t, err)

	got := h.repo.snapshot(t, tn.ID)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Contains(t, got.LastError, "compose up failed")

	// Rollback removed the workspace, which is what makes the retry path
	// (failed -> provisioning) safe.
	require.False(t, h.builder.Exists(h.builder.TenantDir(tn.ID.String())))
	require.Empty(t, h.router.removed, "vhost was never written, nothing to remove")
	require.Empty(t, h.mailer.sent)
}

func TestProvisionReadinessFailureDestroysVolumesAndVhost(t *testing.T) {
	tn := pendingTenant()
	h := newHarness(t, tn)
	h.stacks.waitErr = appErr.New(appErr.CodeReadinessTimeout, "stack not ready")

	err := h.orch.Provision(context.Background(), tn.ID)
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeReadinessTimeout))

	got := h.repo.snapshot(t, tn.ID)
	require.Equal(t, models.StatusFailed, got.Status)
	require.False(t, got.HasCredentials(), "credentials are only persisted after readiness")

	require.Len(t, h.stacks.destroyed, 1)
	require.True(t, h.stacks.destroyedVol[0], "rollback destroys volumes")
	require.Equal(t, []string{"shop.example.com"}, h.router.removed)
	require.False(t, h.builder.Exists(h.builder.TenantDir(tn.ID.String())))
}

func TestProvisionRetryAfterFailure(t *testing.T) {
	tn := pendingTenant()
	h := newHarness(t, tn)
	h.stacks.startErr = appErr.New(appErr.CodeExternalToolFailure, "compose up failed")
	require.Error(t, h.orch.Provision(context.Background(), tn.ID))

	h.stacks.startErr = nil
	require.NoError(t, h.orch.Provision(context.Background(), tn.ID))

	got := h.repo.snapshot(t, tn.ID)
	require.Equal(t, models.StatusActive, got.Status)
	require.Empty(t, got.LastError)
}

func TestProvisionRevalidatesStalePort(t *testing.T) {
	tn := pendingTenant()
	tn.Port = 8001
	h := newHarness(t, tn)
	// Something else grabbed the persisted port between allocation and start.
	h.busy[8001] = true

	renderer := &fakeRenderer{}
	h.orch.renderer = renderer

	require.NoError(t, h.orch.Provision(context.Background(), tn.ID))

	got := h.repo.snapshot(t, tn.ID)
	require.Equal(t, 8002, got.Port)
	require.Equal(t, 8002, h.router.configured["shop.example.com"])

	// Descriptor was re-rendered with the replacement port.
	require.Len(t, renderer.inputs, 2)
	require.Equal(t, 8001, renderer.inputs[0].Port)
	require.Equal(t, 8002, renderer.inputs[1].Port)
}

func TestProvisionRecordsDegradedTLS(t *testing.T) {
	tn := pendingTenant()
	h := newHarness(t, tn)
	h.router.tls = edge.TLSDegraded("DNS not propagated")

	require.NoError(t, h.orch.Provision(context.Background(), tn.ID))

	got := h.repo.snapshot(t, tn.ID)
	require.Equal(t, models.StatusActive, got.Status, "degraded TLS never fails the job")
	require.True(t, got.TLSDegraded)
	require.Equal(t, "DNS not propagated", got.TLSDegradedReason)
}

func TestSuspendStopsContainersKeepsVolumes(t *testing.T) {
	tn := pendingTenant()
	tn.Status = models.StatusActive
	h := newHarness(t, tn)

	require.NoError(t, h.orch.Suspend(context.Background(), tn.ID))

	require.Equal(t, models.StatusSuspended, h.repo.snapshot(t, tn.ID).Status)
	require.Len(t, h.stacks.destroyed, 1)
	require.False(t, h.stacks.destroyedVol[0], "suspension must preserve data volumes")
}

func TestReactivateRevertsClaimOnStartFailure(t *testing.T) {
	tn := pendingTenant()
	tn.Status = models.StatusSuspended
	h := newHarness(t, tn)
	h.stacks.startErr = appErr.New(appErr.CodeExternalToolFailure, "compose up failed")

	err := h.orch.Reactivate(context.Background(), tn.ID)
	require.Error(t, err)

	got := h.repo.snapshot(t, tn.ID)
	require.Equal(t, models.StatusSuspended, got.Status)
	require.Contains(t, got.LastError, "compose up failed")
}

func TestTerminateTearsDownEverything(t *testing.T) {
	tn := pendingTenant()
	tn.Status = models.StatusActive
	h := newHarness(t, tn)
	dir := h.builder.TenantDir(tn.ID.String())
	require.NoError(t, h.builder.Create(dir, tn.Platform))

	require.NoError(t, h.orch.Terminate(context.Background(), tn.ID))

	require.Equal(t, models.StatusTerminated, h.repo.snapshot(t, tn.ID).Status)
	require.Len(t, h.stacks.destroyed, 1)
	require.True(t, h.stacks.destroyedVol[0])
	require.False(t, h.builder.Exists(dir))
	require.Equal(t, []string{"shop.example.com"}, h.router.removed)
}

func TestTerminateRefusedForPendingTenant(t *testing.T) {
	tn := pendingTenant()
	h := newHarness(t, tn)

	err := h.orch.Terminate(context.Background(), tn.ID)
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeConflict))
}

func TestTerminateWithoutWorkspaceStillRemovesVhost(t *testing.T) {
	// A suspended tenant whose workspace vanished (operator cleanup) must
	// still converge to terminated.
	tn := pendingTenant()
	tn.Status = models.StatusSuspended
	h := newHarness(t, tn)

	require.NoError(t, h.orch.Terminate(context.Background(), tn.ID))

	require.Equal(t, models.StatusTerminated, h.repo.snapshot(t, tn.ID).Status)
	require.Empty(t, h.stacks.destroyed)
	require.Equal(t, []string{"shop.example.com"}, h.router.removed)
}
