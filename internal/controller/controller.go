// Package controller schedules monitor work onto the Work Queue on a
// cron tick, runs janitorial procedures on their own crons, and elects a
// single process as the Registry's initial-registration owner.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/sentinela/sentinela/internal/core/service"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/domain/notification"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/storage"
	"github.com/sentinela/sentinela/pkg/logger"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Store is the subset of storage.Store the Controller drives.
type Store interface {
	SchedulableMonitors(ctx context.Context) ([]monitor.Monitor, error)
	ClaimMonitorForRun(ctx context.Context, monitorID int64, kind storage.RunKind) (bool, error)
	StuckMonitors(ctx context.Context, tolerance time.Duration, now time.Time) ([]monitor.Monitor, error)
	ResetStuckMonitor(ctx context.Context, monitorID int64, now time.Time) (storage.Committed[monitor.Monitor], error)
	SolvedAlertNotifications(ctx context.Context, olderThan time.Duration, now time.Time) ([]notification.Notification, error)
	CloseNotification(ctx context.Context, notificationID int64, now time.Time) (storage.Committed[notification.Notification], error)
	ClaimRegistrarLease(ctx context.Context, holder string, ttl time.Duration, now time.Time) (bool, error)
}

// Registrar performs the one-time initial registration of internal and
// sample monitors; invoked only by the process that wins the registrar
// lease.
type Registrar interface {
	RegisterInitialMonitors(ctx context.Context) error
}

// ProcedureConfig is one janitorial procedure's own cron schedule.
type ProcedureConfig struct {
	Schedule string
	// StuckTolerance backs monitors_stuck; should be >= 2x the executor
	// heartbeat interval.
	StuckTolerance time.Duration
	// SolvedNotificationAge backs notifications_alert_solved.
	SolvedNotificationAge time.Duration
}

// Config bundles the Controller's tunables, sourced from
// controller_process_schedule / controller_concurrency /
// controller_procedures in the engine configuration.
type Config struct {
	ProcessSchedule string
	Concurrency     int
	TimeZone        *time.Location
	Procedures      map[string]ProcedureConfig
	RegistrarHolder string
	RegistrarTTL    time.Duration
}

// Controller is a system.Service implementing spec.md 4.4.
type Controller struct {
	store     Store
	q         queue.Queue
	registrar Registrar
	log       *logger.Logger
	cfg       Config
	limiter   *rate.Limiter

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store Store, q queue.Queue, registrar Registrar, cfg Config, log *logger.Logger) *Controller {
	if cfg.TimeZone == nil {
		cfg.TimeZone = time.UTC
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Controller{
		store:     store,
		q:         q,
		registrar: registrar,
		cfg:       cfg,
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Concurrency), cfg.Concurrency),
	}
}

func (c *Controller) Name() string { return "controller" }

func (c *Controller) Descriptor() service.Descriptor {
	return service.Descriptor{Name: c.Name(), Domain: "monitoring", Layer: service.LayerEngine}
}

func (c *Controller) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.cron = cron.New(cron.WithLocation(c.cfg.TimeZone))
	if _, err := c.cron.AddFunc(c.cfg.ProcessSchedule, func() { c.tick(loopCtx) }); err != nil {
		cancel()
		return fmt.Errorf("controller: invalid controller_process_schedule: %w", err)
	}
	for name, proc := range c.cfg.Procedures {
		name, proc := name, proc
		if _, err := c.cron.AddFunc(proc.Schedule, func() { c.runProcedure(loopCtx, name, proc) }); err != nil {
			cancel()
			return fmt.Errorf("controller: invalid procedure schedule for %q: %w", name, err)
		}
	}
	c.cron.Start()

	c.wg.Add(1)
	go c.electRegistrar(loopCtx)

	return nil
}

func (c *Controller) Stop(ctx context.Context) error {
	if c.cron != nil {
		stopped := c.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

// tick implements spec.md 4.4 step 1-2: find schedulable monitors whose
// own search/update cron is due, and claim each under bounded
// concurrency.
func (c *Controller) tick(ctx context.Context) {
	monitors, err := c.store.SchedulableMonitors(ctx)
	if err != nil {
		c.log.WithField("error", err).Error("controller: list schedulable monitors failed")
		return
	}

	now := time.Now().In(c.cfg.TimeZone)
	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, m := range monitors {
		for _, due := range dueCrons(m) {
			if due.cron == "" || !isDue(due.cron, due.lastRun, now) {
				continue
			}
			m, kind := m, due.kind
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.limiter.Wait(ctx); err != nil {
					return
				}
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				defer func() { <-sem }()
				c.claimAndEnqueue(ctx, m, kind)
			}()
		}
	}
	wg.Wait()
}

type scheduledCron struct {
	kind    storage.RunKind
	cron    string
	lastRun time.Time
}

// dueCrons lists a monitor's search and update schedules.
func dueCrons(m monitor.Monitor) [2]scheduledCron {
	return [2]scheduledCron{
		{kind: storage.RunKindSearch, cron: m.Options.SearchCron, lastRun: m.SearchExecutedAt},
		{kind: storage.RunKindUpdate, cron: m.Options.UpdateCron, lastRun: m.UpdateExecutedAt},
	}
}

func isDue(cronExpr string, lastRun, now time.Time) bool {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return false
	}
	if lastRun.IsZero() {
		return true
	}
	return !schedule.Next(lastRun).After(now)
}

func (c *Controller) claimAndEnqueue(ctx context.Context, m monitor.Monitor, kind storage.RunKind) {
	claimed, err := c.store.ClaimMonitorForRun(ctx, m.ID, kind)
	if err != nil {
		c.log.WithField("monitor", m.Name).WithField("error", err).Error("controller: claim failed")
		return
	}
	if !claimed {
		return
	}
	payload := map[string]any{"monitor_id": m.ID, "monitor_name": m.Name, "kind": string(kind)}
	if err := c.q.Send(ctx, queue.KindMonitor, payload); err != nil {
		c.log.WithField("monitor", m.Name).WithField("error", err).Error("controller: enqueue failed")
	}
}

func (c *Controller) runProcedure(ctx context.Context, name string, proc ProcedureConfig) {
	switch name {
	case "monitors_stuck":
		c.monitorsStuck(ctx, proc)
	case "notifications_alert_solved":
		c.notificationsAlertSolved(ctx, proc)
	default:
		c.log.WithField("procedure", name).Warn("controller: unknown procedure")
	}
}

func (c *Controller) monitorsStuck(ctx context.Context, proc ProcedureConfig) {
	now := time.Now().UTC()
	stuck, err := c.store.StuckMonitors(ctx, proc.StuckTolerance, now)
	if err != nil {
		c.log.WithField("error", err).Error("controller: stuck monitor scan failed")
		return
	}
	for _, m := range stuck {
		if _, err := c.store.ResetStuckMonitor(ctx, m.ID, now); err != nil {
			c.log.WithField("monitor", m.Name).WithField("error", err).Error("controller: reset stuck monitor failed")
		}
	}
}

func (c *Controller) notificationsAlertSolved(ctx context.Context, proc ProcedureConfig) {
	now := time.Now().UTC()
	notifications, err := c.store.SolvedAlertNotifications(ctx, proc.SolvedNotificationAge, now)
	if err != nil {
		c.log.WithField("error", err).Error("controller: solved-alert notification scan failed")
		return
	}
	for _, n := range notifications {
		if _, err := c.store.CloseNotification(ctx, n.ID, now); err != nil {
			c.log.WithField("notification", n.ID).WithField("error", err).Error("controller: close notification failed")
		}
	}
}

// electRegistrar periodically attempts to claim the registrar lease;
// the winner runs initial monitor registration exactly once per lease
// acquisition, preventing duplicate inserts across Controller replicas.
func (c *Controller) electRegistrar(ctx context.Context) {
	defer c.wg.Done()
	if c.registrar == nil {
		return
	}

	ticker := time.NewTicker(c.cfg.RegistrarTTL / 2)
	defer ticker.Stop()

	held := false
	attempt := func() {
		won, err := c.store.ClaimRegistrarLease(ctx, c.cfg.RegistrarHolder, c.cfg.RegistrarTTL, time.Now().UTC())
		if err != nil {
			c.log.WithField("error", err).Error("controller: registrar lease claim failed")
			return
		}
		if !won || held {
			held = won
			return
		}
		if err := c.registrar.RegisterInitialMonitors(ctx); err != nil {
			c.log.WithField("error", err).Error("controller: initial monitor registration failed")
			return
		}
		held = true
	}

	attempt()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attempt()
		}
	}
}
