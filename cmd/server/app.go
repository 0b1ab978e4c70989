package main

import (
	"context"
	"fmt"

	"github.com/sentinel/console/internal/config"
	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/core/services"
	"github.com/sentinel/console/internal/infrastructure/chat"
	"github.com/sentinel/console/internal/infrastructure/db"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/infrastructure/mediaapi"
	"github.com/sentinel/console/internal/infrastructure/metrics"
	"github.com/sentinel/console/internal/infrastructure/remote"
	"github.com/sentinel/console/pkg/utils/sshkeygen"
)

// application owns every long-lived component. Fields are closed in reverse
// order of construction by shutdown.
type application struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Collector

	store     *db.Store
	pool      *remote.Pool
	hub       *chat.Hub
	router    *services.ChannelRouter
	tasks     *services.TaskService
	approvals *services.ApprovalService
	scheduler *services.Scheduler
	ready     *services.Readiness
}

func bootstrap(cfg *config.Config, log *logger.Logger) (*application, error) {
	app := &application{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewCollector(),
		ready:   services.NewReadiness(),
	}

	inventory, err := config.LoadInventory(cfg.InventoryPath)
	if err != nil {
		return nil, err
	}

	signer, err := sshkeygen.LoadSigner(cfg.SSH.KeyPath)
	if err != nil {
		return nil, err
	}

	store, err := db.Open(cfg.Database, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	app.store = store

	tasks := db.NewTaskRepository(store, log.Named("store"))
	instances := db.NewInstanceRepository(store, log.Named("store"))
	downloads := db.NewDownloadRepository(store, log.Named("store"))
	updates := db.NewUpdateRepository(store, log.Named("store"))
	jobState := db.NewJobStateRepository(store, log.Named("store"))

	app.pool = remote.NewPool(remote.NewPoolConfig(cfg.SSH, signer), log.Named("ssh"), app.metrics)

	app.hub = chat.NewHub(cfg.Chat.Directory, log.Named("chat"))
	app.router = services.NewChannelRouter(app.hub, cfg.Chat.Names(), log.Named("notify"), app.metrics)

	commands := services.NewRemoteCommands(app.pool)
	runner := services.NewUpdateRunner(commands, updates, app.router, log.Named("updates"))
	app.approvals = services.NewApprovalService(app.router, runner, cfg.Approval.TTL, log.Named("approvals"), app.metrics)
	app.tasks = services.NewTaskService(tasks, instances, app.router, log.Named("tasks"))

	var sources []ports.MediaSource
	for _, c := range mediaapi.NewSources(cfg.API, log.Named("media")) {
		sources = append(sources, c)
	}
	if len(sources) == 0 {
		log.Warnw("media_sources_unconfigured")
	}
	monitor := services.NewDownloadMonitor(sources, downloads, app.router, log.Named("downloads"))
	maintenance := services.NewMaintenance(tasks, downloads, cfg.Scheduler.StaleTaskAfter, cfg.Scheduler.DownloadRetention, log.Named("maintenance"))
	reporter := services.NewReporter(services.ReporterDeps{
		Commands:     commands,
		Files:        app.pool,
		Inventory:    inventory,
		Approvals:    app.approvals,
		Notifier:     app.router,
		Tasks:        tasks,
		Instances:    instances,
		Updates:      updates,
		ActiveWindow: cfg.Scheduler.ActiveInstanceWindow,
		PullImages:   cfg.Scheduler.UpdateReportPull,
	}, log.Named("reports"))

	app.hub.OnReaction(app.approvals.HandleReaction)
	app.hub.OnReaction(monitor.HandleReaction)

	app.scheduler = services.NewScheduler(services.SchedulerConfig{
		JobTimeout: cfg.Scheduler.JobTimeout,
		DailyGrace: cfg.Scheduler.DailyGrace,
	}, app.ready, jobState, log.Named("scheduler"), app.metrics)

	if err := services.RegisterDefaultJobs(app.scheduler, cfg.Scheduler, cfg.Approval, services.JobSet{
		Downloads:   monitor,
		Maintenance: maintenance,
		Reporter:    reporter,
		Approvals:   app.approvals,
	}); err != nil {
		app.shutdown()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	return app, nil
}

// start resolves channels, launches the scheduler and opens the readiness
// gate.
func (a *application) start(ctx context.Context) error {
	if err := a.router.Refresh(ctx); err != nil {
		a.log.Warnw("channel_router_initial_refresh_failed", "error", err)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.ready.MarkReady()
	a.log.Infow("console_ready", "jobs", a.scheduler.Jobs())
	return nil
}

func (a *application) shutdown() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.approvals != nil {
		if err := a.approvals.Close(); err != nil {
			a.log.Errorw("approvals_close_failed", "error", err)
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.log.Errorw("ssh_pool_close_failed", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Errorw("store_close_failed", "error", err)
		}
	}
	if a.hub != nil {
		_ = a.hub.Close()
	}
}
