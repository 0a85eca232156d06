// Package app is the composition root: it wires the Store, Work Queue,
// Registry, Controller, Executor, Outbox Flusher, and admin HTTP surface
// into a single system.Manager-governed lifecycle, mirroring the shape of
// the teacher's internal/app/application.go (a manager built once in New,
// Start/Stop simply delegating to it) without the teacher's own
// service-specific wiring.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/sentinela/sentinela/internal/config"
	"github.com/sentinela/sentinela/internal/controller"
	"github.com/sentinela/sentinela/internal/eventbus"
	"github.com/sentinela/sentinela/internal/executor"
	"github.com/sentinela/sentinela/internal/httpapi"
	"github.com/sentinela/sentinela/internal/metrics"
	"github.com/sentinela/sentinela/internal/platform/database"
	"github.com/sentinela/sentinela/internal/platform/migrations"
	"github.com/sentinela/sentinela/internal/platform/querypools"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/queue/inprocess"
	"github.com/sentinela/sentinela/internal/queue/redisqueue"
	"github.com/sentinela/sentinela/internal/registrar"
	"github.com/sentinela/sentinela/internal/registry"
	"github.com/sentinela/sentinela/internal/registry/jsmonitor"
	"github.com/sentinela/sentinela/internal/storage"
	"github.com/sentinela/sentinela/internal/storage/memory"
	"github.com/sentinela/sentinela/internal/storage/postgres"
	"github.com/sentinela/sentinela/internal/system"
	"github.com/sentinela/sentinela/pkg/logger"
)

// Application bundles every long-running component and the database
// handle it was built from, so main can close it on shutdown.
type Application struct {
	manager  *system.Manager
	Store    storage.Store
	Registry *registry.Registry
	db       *sqlx.DB
	pools    *querypools.Pools
}

// variableAccess adapts storage.VariableStore to jsmonitor.VariableAccess,
// stamping the write time the narrower builtin-facing interface omits.
type variableAccess struct {
	store storage.VariableStore
}

func (v variableAccess) GetVariable(ctx context.Context, monitorID int64, key string) ([]byte, bool, error) {
	return v.store.GetVariable(ctx, monitorID, key)
}

func (v variableAccess) SetVariable(ctx context.Context, monitorID int64, key string, value []byte) error {
	return v.store.SetVariable(ctx, monitorID, key, value, time.Now().UTC())
}

// New assembles the Application from cfg. jwtSecret may be empty to
// disable HTTP auth (local/dev use).
func New(ctx context.Context, cfg *config.Config, jwtSecret []byte, log *logger.Logger) (*Application, error) {
	store, db, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	q, err := buildQueue(cfg)
	if err != nil {
		return nil, err
	}

	pools, err := querypools.Open(ctx, cfg.DatabasesPoolsConfigs)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("open query pools: %w", err)
	}

	compiler := jsmonitor.NewCompiler(variableAccess{store: store}, pools)
	reloadInterval := cronIntervalApprox(cfg.MonitorsLoadSchedule, 5*time.Minute)
	reg := registry.New(store, compiler, reloadInterval, 30*time.Second, log)

	reg2 := registrar.New(store, cfg.InternalMonitorsPath, cfg.SampleMonitorsPath, cfg.LoadSampleMonitors)

	controllerCfg := controller.Config{
		ProcessSchedule: cfg.ControllerProcessSchedule,
		Concurrency:     cfg.ControllerConcurrency,
		TimeZone:        cfg.Location(),
		Procedures:      buildProcedureConfigs(cfg.ControllerProcedures),
		RegistrarHolder: fmt.Sprintf("sentinela-%d", time.Now().UnixNano()),
		RegistrarTTL:    30 * time.Second,
	}
	ctl := controller.New(store, q, reg2, controllerCfg, log)

	metricsCollectors := metrics.New()
	execCfg := executor.Config{
		Concurrency:       cfg.ExecutorConcurrency,
		Sleep:             cfg.ExecutorSleep,
		ReceiveWait:       cfg.ApplicationQueue.QueueWaitMessageTime,
		VisibilityWindow:  cfg.ExecutorMonitorTimeout,
		MonitorTimeout:    cfg.ExecutorMonitorTimeout,
		ReactionTimeout:   cfg.ExecutorReactionTimeout,
		RequestTimeout:    cfg.ExecutorRequestTimeout,
		HeartbeatInterval: cfg.ExecutorMonitorHeartbeatTime,
		MaxIssuesCreation: cfg.MaxIssuesCreation,
	}
	exec := executor.New(store, q, reg, execCfg, log, metricsCollectors)

	flusher := eventbus.New(store, q, eventbus.Config{
		FlushInterval: cfg.Eventbus.FlushInterval,
		BatchSize:     cfg.Eventbus.FlushBatchSize,
		LogAllEvents:  cfg.LogAllEvents,
	}, log, metricsCollectors)

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPServer.Port)
	httpSvc := httpapi.NewService(httpAddr, store, reg, compiler, metricsCollectors.Handler(), jwtSecret, log)

	manager := system.NewManager()
	for _, svc := range []system.Service{reg, ctl, exec, flusher, httpSvc} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:  manager,
		Store:    store,
		Registry: reg,
		db:       db,
		pools:    pools,
	}, nil
}

func (a *Application) Start(ctx context.Context) error { return a.manager.Start(ctx) }

func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.pools != nil {
		_ = a.pools.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	return err
}

func buildStore(ctx context.Context, cfg *config.Config) (storage.Store, *sqlx.DB, error) {
	if cfg.DatabaseApplication == "" {
		return memory.New(), nil, nil
	}

	sqlDB, err := database.Open(ctx, cfg.DatabaseApplication, cfg.DatabaseSettings.PoolSize)
	if err != nil {
		return nil, nil, fmt.Errorf("connect application database: %w", err)
	}
	if err := migrations.Apply(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	sqlxDB := sqlx.NewDb(sqlDB, "postgres")
	return postgres.New(sqlxDB), sqlxDB, nil
}

func buildQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.ApplicationQueue.Type {
	case "", "inprocess":
		size := cfg.ApplicationQueue.Inprocess.BufferSize
		if size <= 0 {
			size = 1024
		}
		return inprocess.New(size), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.ApplicationQueue.Redis.Addr})
		return redisqueue.New(client, "sentinela"), nil
	default:
		return nil, fmt.Errorf("unknown application_queue.type %q", cfg.ApplicationQueue.Type)
	}
}

func buildProcedureConfigs(procs map[string]config.ControllerProcedureConfig) map[string]controller.ProcedureConfig {
	out := make(map[string]controller.ProcedureConfig, len(procs))
	for name, p := range procs {
		pc := controller.ProcedureConfig{Schedule: p.Schedule}
		if v, ok := p.Params["tolerance"]; ok {
			if d, err := time.ParseDuration(v); err == nil {
				pc.StuckTolerance = d
			}
		}
		if v, ok := p.Params["older_than"]; ok {
			if d, err := time.ParseDuration(v); err == nil {
				pc.SolvedNotificationAge = d
			}
		}
		out[name] = pc
	}
	return out
}

var cronIntervalParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// cronIntervalApprox derives a fixed reload interval from a cron
// expression by measuring the gap between its next two fire times, since
// Registry reloads on a plain ticker rather than re-evaluating a cron
// schedule on every tick. Falls back to `fallback` on a bad expression.
func cronIntervalApprox(schedule string, fallback time.Duration) time.Duration {
	sched, err := cronIntervalParser.Parse(schedule)
	if err != nil {
		return fallback
	}
	now := time.Now()
	first := sched.Next(now)
	second := sched.Next(first)
	gap := second.Sub(first)
	if gap <= 0 {
		return fallback
	}
	return gap
}
