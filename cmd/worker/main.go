package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/storegrid/engine/pkg/config"
	"github.com/storegrid/engine/pkg/database"
	"github.com/storegrid/engine/pkg/logger"

	"github.com/storegrid/engine/internal/descriptor"
	"github.com/storegrid/engine/internal/edge"
	"github.com/storegrid/engine/internal/enforcement"
	"github.com/storegrid/engine/internal/execx"
	"github.com/storegrid/engine/internal/notify"
	"github.com/storegrid/engine/internal/orchestrator"
	"github.com/storegrid/engine/internal/ports"
	"github.com/storegrid/engine/internal/queue/tasks"
	"github.com/storegrid/engine/internal/repository"
	"github.com/storegrid/engine/internal/stack"
	"github.com/storegrid/engine/internal/staging"
	"github.com/storegrid/engine/internal/workspace"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	tenantRepo := repository.NewTenantRepository(db)
	stagingRepo := repository.NewStagingRepository(db)
	jobRepo := repository.NewJobRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	notifRepo := repository.NewNotificationRepository(db)

	runner := execx.NewRunner()

	builder := workspace.NewBuilder(cfg.WorkspaceRoot)
	renderer, err := descriptor.NewRenderer()
	if err != nil {
		log.Fatal("failed to parse stack templates", zap.Error(err))
	}
	stacks := stack.NewManager(runner, cfg.DockerBin)
	router, err := edge.NewConfigurator(runner, edge.Config{
		VhostDir:     cfg.NginxVhostDir,
		AccessLogDir: cfg.AccessLogDir,
		NginxBin:     cfg.NginxBin,
		CertbotBin:   cfg.CertbotBin,
		CertbotEmail: cfg.CertbotEmail,
	})
	if err != nil {
		log.Fatal("failed to build edge configurator", zap.Error(err))
	}

	alloc := ports.NewAllocator(repository.NewPortLedger(db))

	var mailer notify.Mailer = notify.NoopMailer{}
	if cfg.ResendAPIKey != "" {
		mailer = notify.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom)
	}
	notifier := notify.NewNotifier(mailer, notifRepo)

	orch := orchestrator.New(
		orchestrator.Config{
			PortRangeStart: cfg.PortRangeStart,
			PortRangeEnd:   cfg.PortRangeEnd,
		},
		tenantRepo, alloc, builder, renderer, stacks, router, notifier,
	)

	stagingOrch := staging.New(
		staging.Config{
			PortRangeStart: cfg.StagingPortRangeStart,
			PortRangeEnd:   cfg.StagingPortRangeEnd,
			MaxPerTenant:   cfg.StagingMaxPerTenant,
			BackupDir:      cfg.BackupDir,
		},
		tenantRepo, stagingRepo, alloc, builder, renderer, stacks, router,
	)

	enforcer := enforcement.New(
		enforcement.Config{
			Interval:      cfg.EnforceInterval,
			AlertCooldown: cfg.AlertCooldown,
			WorkspaceRoot: cfg.WorkspaceRoot,
			AccessLogDir:  cfg.AccessLogDir,
		},
		tenantRepo, usageRepo, notifier, orch, stagingOrch,
		enforcement.NewDiskMeter(runner, cfg.QuotaCmd),
	)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	tenantHandler := tasks.NewTenantTaskHandler(orch, stagingOrch, jobRepo)
	stagingHandler := tasks.NewStagingTaskHandler(stagingOrch, jobRepo)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeTenantProvision, tenantHandler.HandleProvision)
	mux.HandleFunc(tasks.TypeTenantSuspend, tenantHandler.HandleSuspend)
	mux.HandleFunc(tasks.TypeTenantReactivate, tenantHandler.HandleReactivate)
	mux.HandleFunc(tasks.TypeTenantTerminate, tenantHandler.HandleTerminate)
	mux.HandleFunc(tasks.TypeStagingCreate, stagingHandler.HandleCreate)
	mux.HandleFunc(tasks.TypeStagingPush, stagingHandler.HandlePush)
	mux.HandleFunc(tasks.TypeStagingDelete, stagingHandler.HandleDelete)

	enforceCtx, stopEnforcer := context.WithCancel(context.Background())
	go enforcer.Run(enforceCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.L().Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	stopEnforcer()
	srv.Shutdown()
}
