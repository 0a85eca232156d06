// Package registry holds the live catalogue of loaded monitor definitions
// and reloads it periodically from the Store, replacing the mapping under
// a reader-writer lock so lookups never block behind a reload beyond the
// swap itself.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sentinela/sentinela/internal/core/service"
	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/pkg/logger"
)

// Callable is the capability set a loaded monitor exposes. Source carries
// its own timeout enforcement expectations; callers are responsible for
// bounding ctx.
type Callable interface {
	Search(ctx context.Context) ([]map[string]any, error)
	Update(ctx context.Context, active []map[string]any) ([]map[string]any, error)
	IsSolved(ctx context.Context, data map[string]any) (bool, error)
	Reaction(ctx context.Context, name string, ev event.Event) error
}

// Definition pairs a registered Monitor's metadata with its compiled
// callable.
type Definition struct {
	Monitor  monitor.Monitor
	Callable Callable
}

// Compiler turns a Monitor's source blob into a Callable. The production
// implementation is the goja-backed adapter in internal/registry/jsmonitor.
type Compiler interface {
	Compile(m monitor.Monitor) (Callable, error)
}

// Source lists monitors to load; Store satisfies it directly.
type Source interface {
	ListMonitors(ctx context.Context) ([]monitor.Monitor, error)
}

// Registry is a read-mostly, atomically-swapped catalogue of Definitions.
type Registry struct {
	log      *logger.Logger
	source   Source
	compiler Compiler
	interval time.Duration
	// earlyLoadMargin is stored but not read by the reload loop; a
	// SignalReload call triggers an immediate reload regardless of it.
	earlyLoadMargin time.Duration

	mu   sync.RWMutex
	defs map[string]Definition

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Registry that reloads every interval, and reloads at once
// when SignalReload is called.
func New(source Source, compiler Compiler, interval, earlyLoadMargin time.Duration, log *logger.Logger) *Registry {
	return &Registry{
		log:             log,
		source:          source,
		compiler:        compiler,
		interval:        interval,
		earlyLoadMargin: earlyLoadMargin,
		defs:            make(map[string]Definition),
		wake:            make(chan struct{}, 1),
	}
}

func (r *Registry) Name() string { return "registry" }

func (r *Registry) Descriptor() service.Descriptor {
	return service.Descriptor{Name: r.Name(), Domain: "monitoring", Layer: service.LayerEngine}
}

// Start performs an initial synchronous load, then runs the reload loop in
// the background.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.Reload(ctx); err != nil {
		r.log.WithField("error", err).Error("registry initial load failed")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(loopCtx)
	return nil
}

func (r *Registry) Stop(_ context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return nil
}

func (r *Registry) loop(ctx context.Context) {
	defer r.wg.Done()

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-r.wake:
			if !timer.Stop() {
				<-timer.C
			}
		}

		if err := r.Reload(ctx); err != nil {
			r.log.WithField("error", err).Error("registry reload failed")
		}
		timer.Reset(r.interval)
	}
}

// SignalReload wakes the reload loop ahead of its next tick. Safe to call
// from any goroutine; redundant signals are coalesced.
func (r *Registry) SignalReload() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Reload re-reads monitors from the Source, compiles each, and atomically
// replaces the live mapping. A monitor that fails to compile keeps its
// previous Definition (if any) and is logged, rather than disappearing
// from the catalogue.
func (r *Registry) Reload(ctx context.Context) error {
	monitors, err := r.source.ListMonitors(ctx)
	if err != nil {
		return err
	}

	r.mu.RLock()
	previous := r.defs
	r.mu.RUnlock()

	next := make(map[string]Definition, len(monitors))
	for _, m := range monitors {
		if !m.Enabled {
			continue
		}
		callable, err := r.compiler.Compile(m)
		if err != nil {
			r.log.WithField("monitor", m.Name).WithField("error", err).Error("monitor compile failed, keeping previous definition")
			if prev, ok := previous[m.Name]; ok {
				next[m.Name] = prev
			}
			continue
		}
		next[m.Name] = Definition{Monitor: m, Callable: callable}
	}

	r.mu.Lock()
	r.defs = next
	r.mu.Unlock()
	return nil
}

// Lookup returns the current Definition for name, or false if unregistered
// or disabled.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[monitor.Normalize(name)]
	return def, ok
}

// LookupByID scans the current catalogue for a Definition by monitor ID.
// Lookup by name is the hot path; this exists for callers that only have
// the numeric ID (e.g. recomputing an alert after a run).
func (r *Registry) LookupByID(id int64) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.defs {
		if def.Monitor.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}

// Len reports how many monitors are currently loaded.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
