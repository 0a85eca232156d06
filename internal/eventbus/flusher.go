// Package eventbus implements the Outbox Flusher: a system.Service that
// periodically scans the Store for events not yet published and enqueues
// one `event` Work Queue message per event, the recovery path spec.md
// 4.1 names for "a crash after commit but before queue emission."
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentinela/sentinela/internal/core/service"
	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/pkg/logger"
)

// Store is the subset of storage.Store the Flusher drives.
type Store interface {
	PendingEvents(ctx context.Context, limit int) ([]event.Event, error)
	MarkEventsPublished(ctx context.Context, ids []int64, now time.Time) error
	GetMonitor(ctx context.Context, monitorID int64) (monitor.Monitor, error)
}

// Metrics is the narrow counter surface the Flusher reports through.
type Metrics interface {
	IncEventsFlushed(n int)
}

type noopMetrics struct{}

func (noopMetrics) IncEventsFlushed(int) {}

// eventMessage mirrors executor.eventMessage's wire shape: the Executor's
// event handler resolves reaction names itself from the Registry at
// delivery time, so the Flusher only needs to identify which monitor the
// event belongs to.
type eventMessage struct {
	MonitorName string      `json:"monitor_name"`
	Event       event.Event `json:"event"`
}

// Config tunes the Flusher's poll interval and batch size
// (eventbus.flush_interval, eventbus.flush_batch_size), plus whether a
// event with no reaction subscriber should still be dispatched.
type Config struct {
	FlushInterval time.Duration
	BatchSize     int

	// LogAllEvents, when true, dispatches every pending event regardless
	// of whether its monitor registered a reaction for that event_name.
	// When false (the default), an event with no matching
	// Options.Reactions entry is dropped: marked published without ever
	// reaching the Work Queue, since nothing would handle it anyway.
	LogAllEvents bool
}

// Flusher is a system.Service scanning PendingEvents on FlushInterval and
// enqueuing one `event` message per event.
type Flusher struct {
	store   Store
	q       queue.Queue
	cfg     Config
	log     *logger.Logger
	metrics Metrics

	monitors sync.Map // int64 -> monitor.Monitor, avoids a GetMonitor round trip per event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Flusher. metrics may be nil, in which case flushes are
// silently uncounted.
func New(store Store, q queue.Queue, cfg Config, log *logger.Logger, metrics Metrics) *Flusher {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Flusher{store: store, q: q, cfg: cfg, log: log, metrics: metrics}
}

func (f *Flusher) Name() string { return "eventbus" }

func (f *Flusher) Descriptor() service.Descriptor {
	return service.Descriptor{Name: f.Name(), Domain: "monitoring", Layer: service.LayerEngine}
}

func (f *Flusher) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := f.flush(loopCtx); err != nil {
					f.log.WithField("error", err).Error("eventbus: flush failed")
				}
			}
		}
	}()
	return nil
}

func (f *Flusher) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	return nil
}

// flush runs one poll-enqueue-mark cycle. Enqueue happens before marking
// published so a crash between the two simply redelivers the batch next
// tick; the Executor's reaction handlers must be idempotent, matching
// spec.md 4.6's at-least-once contract. An event whose monitor has no
// reaction registered for its event_name is marked published without
// ever reaching the queue, unless LogAllEvents overrides that.
func (f *Flusher) flush(ctx context.Context) error {
	events, err := f.store.PendingEvents(ctx, f.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("eventbus: pending events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	published := make([]int64, 0, len(events))
	for _, ev := range events {
		m, err := f.monitor(ctx, ev.SourceMonitorID)
		if err != nil {
			f.log.WithField("event_id", ev.ID).WithField("error", err).
				Warn("eventbus: resolve monitor failed, skipping event")
			continue
		}
		if !f.cfg.LogAllEvents && len(m.Options.Reactions[string(ev.Name)]) == 0 {
			published = append(published, ev.ID)
			continue
		}
		if err := f.q.Send(ctx, queue.KindEvent, eventMessage{MonitorName: m.Name, Event: ev}); err != nil {
			f.log.WithField("event_id", ev.ID).WithField("error", err).Error("eventbus: enqueue failed")
			continue
		}
		published = append(published, ev.ID)
	}

	if len(published) == 0 {
		return nil
	}
	if err := f.store.MarkEventsPublished(ctx, published, time.Now().UTC()); err != nil {
		return fmt.Errorf("eventbus: mark published: %w", err)
	}
	f.metrics.IncEventsFlushed(len(published))
	return nil
}

func (f *Flusher) monitor(ctx context.Context, monitorID int64) (monitor.Monitor, error) {
	if m, ok := f.monitors.Load(monitorID); ok {
		return m.(monitor.Monitor), nil
	}
	m, err := f.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return monitor.Monitor{}, err
	}
	f.monitors.Store(monitorID, m)
	return m, nil
}
