// Package enforcement runs the periodic lifecycle sweep: it measures each
// active tenant's resource usage against its plan, drives suspend and
// terminate transitions for lapsed subscriptions, and keeps threshold
// alerting idempotent across cycles.
package enforcement

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/metrics"
	"github.com/storegrid/engine/internal/models"
	"github.com/storegrid/engine/internal/notify"
	"github.com/storegrid/engine/internal/repository"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

// LifecycleDriver is the slice of the provisioning orchestrator the worker
// reuses for suspend and terminate transitions.
type LifecycleDriver interface {
	Suspend(ctx context.Context, tenantID uuid.UUID) error
	Terminate(ctx context.Context, tenantID uuid.UUID) error
}

// StagingCleaner cascades a termination through the tenant's staging
// environments before the parent stack is destroyed.
type StagingCleaner interface {
	DeleteAllForTenant(ctx context.Context, tenantID uuid.UUID) error
}

// Config bounds the sweep.
type Config struct {
	Interval      time.Duration
	AlertCooldown time.Duration
	WorkspaceRoot string
	AccessLogDir  string
}

type Worker struct {
	cfg      Config
	tenants  repository.TenantRepository
	usage    repository.UsageRepository
	notifier *notify.Notifier
	driver   LifecycleDriver
	cleaner  StagingCleaner
	disk     DiskMeter

	// now is injectable so tests can pin the clock.
	now func() time.Time
}

func New(
	cfg Config,
	tenants repository.TenantRepository,
	usage repository.UsageRepository,
	notifier *notify.Notifier,
	driver LifecycleDriver,
	cleaner StagingCleaner,
	disk DiskMeter,
) *Worker {
	return &Worker{
		cfg:      cfg,
		tenants:  tenants,
		usage:    usage,
		notifier: notifier,
		driver:   driver,
		cleaner:  cleaner,
		disk:     disk,
		now:      time.Now,
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	logger.L().Info("enforcement worker started", zap.Duration("interval", w.cfg.Interval))
	for {
		if err := w.RunOnce(ctx); err != nil {
			logger.L().Error("enforcement sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.L().Info("enforcement worker stopping")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one full sweep: usage enforcement over active tenants,
// then the subscription grace-period sweep over active and suspended ones.
func (w *Worker) RunOnce(ctx context.Context) error {
	start := w.now()
	defer func() { metrics.EnforcementCycle.Observe(time.Since(start).Seconds()) }()

	active, err := w.tenants.ListByStatus(ctx, models.StatusActive)
	if err != nil {
		return err
	}
	for i := range active {
		if err := w.enforceUsage(ctx, &active[i]); err != nil {
			logger.L().Error("usage enforcement failed",
				zap.String("tenant_id", active[i].ID.String()), zap.Error(err))
		}
	}

	for _, status := range []models.TenantStatus{models.StatusActive, models.StatusSuspended} {
		tenants, err := w.tenants.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		for i := range tenants {
			if err := w.enforceGrace(ctx, &tenants[i]); err != nil {
				logger.L().Error("grace enforcement failed",
					zap.String("tenant_id", tenants[i].ID.String()), zap.Error(err))
			}
		}
	}
	return nil
}

func (w *Worker) enforceUsage(ctx context.Context, t *models.Tenant) error {
	dir := filepath.Join(w.cfg.WorkspaceRoot, t.ID.String())
	diskBytes, err := w.disk.Usage(ctx, dir)
	if err != nil {
		return err
	}

	logPath := filepath.Join(w.cfg.AccessLogDir, t.Domain+".access.log")
	today := w.now()
	dayBytes, err := DayBytes(logPath, today)
	if err != nil {
		return err
	}

	if err := w.usage.UpsertSample(ctx, &models.UsageSample{
		TenantID:       t.ID,
		Day:            models.UsageDay(today),
		DiskBytes:      diskBytes,
		BandwidthBytes: dayBytes,
	}); err != nil {
		return err
	}

	monthBytes, err := w.usage.MonthBandwidth(ctx, t.ID, today)
	if err != nil {
		return err
	}

	if suspended, err := w.enforceLimit(ctx, t, "disk", diskBytes, t.Plan.DiskLimitBytes,
		models.NotifyDiskWarning, models.NotifyDiskCritical); err != nil || suspended {
		return err
	}
	_, err = w.enforceLimit(ctx, t, "bandwidth", monthBytes, t.Plan.BandwidthLimitBytes,
		models.NotifyBandwidthWarning, models.NotifyBandwidthCritical)
	return err
}

// enforceLimit applies the 80/90/100 thresholds for one resource. Crossing
// 100% suspends the tenant; the lower thresholds notify at most once per
// cooldown window.
func (w *Worker) enforceLimit(ctx context.Context, t *models.Tenant, resource string, used, limit int64, warnKind, critKind string) (suspended bool, err error) {
	if limit <= 0 {
		return false, nil
	}

	switch {
	case used >= limit:
		if err := w.driver.Suspend(ctx, t.ID); err != nil {
			return false, err
		}
		metrics.Suspensions.WithLabelValues("usage").Inc()
		w.sendOnce(ctx, t, models.NotifySuspended, w.cfg.AlertCooldown, notify.Message{
			To:      t.AdminEmail,
			Subject: "Your store has been suspended",
			HTML: fmt.Sprintf("<p>Your store %s exceeded its %s limit and was suspended. "+
				"Your data is preserved; upgrade your plan to resume service.</p>", t.Domain, resource),
		})
		logger.L().Warn("tenant suspended for resource usage",
			zap.String("tenant_id", t.ID.String()),
			zap.String("resource", resource),
			zap.Int64("used", used),
			zap.Int64("limit", limit),
		)
		return true, nil
	case used*10 >= limit*9:
		w.sendOnce(ctx, t, critKind, w.cfg.AlertCooldown, notify.Message{
			To:      t.AdminEmail,
			Subject: fmt.Sprintf("Critical: %s usage above 90%%", resource),
			HTML: fmt.Sprintf("<p>Your store %s is using %d of %d bytes of its %s allowance. "+
				"Service is suspended at 100%%.</p>", t.Domain, used, limit, resource),
		})
	case used*5 >= limit*4:
		w.sendOnce(ctx, t, warnKind, w.cfg.AlertCooldown, notify.Message{
			To:      t.AdminEmail,
			Subject: fmt.Sprintf("Warning: %s usage above 80%%", resource),
			HTML: fmt.Sprintf("<p>Your store %s is using %d of %d bytes of its %s allowance.</p>",
				t.Domain, used, limit, resource),
		})
	}
	return false, nil
}

// grace warnings go out this many days before the deadline, once each.
var graceWarnings = []struct {
	days int
	kind string
}{
	{1, models.NotifyGraceOneDay},
	{3, models.NotifyGraceThreeDays},
}

// graceWarningWindow is "once per tenant per warning type": long enough to
// cover any realistic grace period.
const graceWarningWindow = 90 * 24 * time.Hour

func (w *Worker) enforceGrace(ctx context.Context, t *models.Tenant) error {
	if t.GraceDeadline == nil {
		return nil
	}
	switch t.SubscriptionState {
	case models.SubscriptionCancelled, models.SubscriptionPastDue:
	default:
		return nil
	}

	now := w.now()
	if now.Before(*t.GraceDeadline) {
		for _, gw := range graceWarnings {
			if now.Add(time.Duration(gw.days) * 24 * time.Hour).Before(*t.GraceDeadline) {
				continue
			}
			w.sendOnce(ctx, t, gw.kind, graceWarningWindow, notify.Message{
				To:      t.AdminEmail,
				Subject: fmt.Sprintf("Action required: service interruption in %d day(s)", gw.days),
				HTML: fmt.Sprintf("<p>The subscription for %s is %s. Service will be interrupted on %s.</p>",
					t.Domain, t.SubscriptionState, t.GraceDeadline.Format("2006-01-02")),
			})
			break
		}
		return nil
	}

	// Deadline passed: cancelled terminates (irreversible), past-due only
	// suspends (data preserved).
	if t.SubscriptionState == models.SubscriptionCancelled {
		if err := w.cleaner.DeleteAllForTenant(ctx, t.ID); err != nil {
			return err
		}
		if err := w.driver.Terminate(ctx, t.ID); err != nil {
			return err
		}
		metrics.Terminations.Inc()
		w.sendOnce(ctx, t, models.NotifyTerminated, graceWarningWindow, notify.Message{
			To:      t.AdminEmail,
			Subject: "Your store has been removed",
			HTML:    fmt.Sprintf("<p>The cancelled subscription for %s passed its grace period; the store and its data were removed.</p>", t.Domain),
		})
		return nil
	}

	if t.Status != models.StatusActive {
		return nil
	}
	if err := w.driver.Suspend(ctx, t.ID); err != nil {
		return err
	}
	metrics.Suspensions.WithLabelValues("billing").Inc()
	w.sendOnce(ctx, t, models.NotifySuspended, w.cfg.AlertCooldown, notify.Message{
		To:      t.AdminEmail,
		Subject: "Your store has been suspended",
		HTML:    fmt.Sprintf("<p>The subscription for %s is past due; the store was suspended. Your data is preserved.</p>", t.Domain),
	})
	return nil
}

// sendOnce delivers a notification unless one of the same kind already went
// out within the window. Delivery problems are logged, never propagated.
func (w *Worker) sendOnce(ctx context.Context, t *models.Tenant, kind string, window time.Duration, msg notify.Message) {
	if t.AdminEmail == "" {
		return
	}
	sent, err := w.notifier.SentWithin(ctx, t.ID, kind, window)
	if err != nil {
		logger.L().Warn("notification dedupe check failed", zap.Error(err))
		return
	}
	if sent {
		return
	}
	_ = w.notifier.Notify(ctx, t.ID, kind, msg)
}
