// Package executor runs the worker pool that consumes Work Queue messages
// and dispatches them to per-kind handlers under a deadline, renewing
// message visibility and the monitor's heartbeat for the duration of the
// handler.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sentinela/sentinela/internal/core/service"
	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/registry"
	"github.com/sentinela/sentinela/internal/storage"
	"github.com/sentinela/sentinela/pkg/logger"
)

// Metrics is the narrow set of counters the Executor increments; the
// production implementation is internal/metrics.
type Metrics interface {
	IncMonitorNotRegistered()
	IncMonitorExecutionError()
	IncReactionExecutionError()
	IncHandlerTimeout(kind queue.Kind)
	IncSearchIssuesLimitReached()
	RecordMonitorRun(kind, outcome string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) IncMonitorNotRegistered()                          {}
func (noopMetrics) IncMonitorExecutionError()                         {}
func (noopMetrics) IncReactionExecutionError()                        {}
func (noopMetrics) IncHandlerTimeout(queue.Kind)                      {}
func (noopMetrics) IncSearchIssuesLimitReached()                      {}
func (noopMetrics) RecordMonitorRun(string, string, time.Duration)    {}

// ActionHandler runs one named request action.
type ActionHandler func(ctx context.Context, params map[string]any) error

// Config holds the Executor's per-kind timeouts and pacing, sourced from
// executor_concurrency / executor_sleep / executor_monitor_timeout /
// executor_reaction_timeout / executor_request_timeout /
// executor_monitor_heartbeat_time / max_issues_creation.
type Config struct {
	Concurrency       int
	Sleep             time.Duration
	ReceiveWait       time.Duration
	VisibilityWindow  time.Duration
	MonitorTimeout    time.Duration
	ReactionTimeout   time.Duration
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	MaxIssuesCreation int
}

// Executor is a system.Service running Config.Concurrency worker loops.
type Executor struct {
	store   storage.Store
	q       queue.Queue
	reg     *registry.Registry
	cfg     Config
	log     *logger.Logger
	metrics Metrics
	actions map[string]ActionHandler
	prefixes []prefixHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type prefixHandler struct {
	prefix  string
	handler ActionHandler
}

func New(store storage.Store, q queue.Queue, reg *registry.Registry, cfg Config, log *logger.Logger, metrics Metrics) *Executor {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	e := &Executor{
		store:   store,
		q:       q,
		reg:     reg,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		actions: make(map[string]ActionHandler),
	}
	e.registerBuiltinActions()
	return e
}

func (e *Executor) Name() string { return "executor" }

func (e *Executor) Descriptor() service.Descriptor {
	return service.Descriptor{Name: e.Name(), Domain: "monitoring", Layer: service.LayerEngine}
}

// RegisterAction wires a built-in request action (disable/enable monitor,
// acknowledge/lock/solve alert, drop issue, re-register monitor).
func (e *Executor) RegisterAction(name string, h ActionHandler) {
	e.actions[name] = h
}

// RegisterActionPrefix routes any action whose name starts with prefix to
// a plugin action registry, per spec.md 4.5's "unknown actions are routed
// by action-name prefix".
func (e *Executor) RegisterActionPrefix(prefix string, h ActionHandler) {
	e.prefixes = append(e.prefixes, prefixHandler{prefix: prefix, handler: h})
}

func (e *Executor) Start(_ context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	for i := 0; i < e.cfg.Concurrency; i++ {
		e.wg.Add(1)
		go e.worker(loopCtx)
	}
	return nil
}

func (e *Executor) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

func (e *Executor) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := e.q.Receive(ctx, e.cfg.ReceiveWait, e.cfg.VisibilityWindow)
		if err != nil {
			if err == queue.ErrEmpty {
				time.Sleep(e.cfg.Sleep)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.log.WithField("error", err).Error("executor: receive failed")
			time.Sleep(e.cfg.Sleep)
			continue
		}
		e.handle(ctx, msg)
	}
}

// handle implements spec.md 4.5 steps 2-5: a heartbeat supervisor runs
// alongside the deadline-bounded handler; the message is always acked
// afterward regardless of outcome — monitor work is rescheduled by the
// Controller, reactions and requests are best-effort.
func (e *Executor) handle(ctx context.Context, msg *queue.Message) {
	kindTimeout := e.timeoutFor(msg.Kind)
	handlerCtx, cancel := context.WithTimeout(ctx, kindTimeout)
	defer cancel()

	heartbeat := newHeartbeat(e, msg)
	go heartbeat.run(handlerCtx)

	err := e.dispatch(handlerCtx, msg, heartbeat)
	heartbeat.stop()

	if err != nil {
		if handlerCtx.Err() == context.DeadlineExceeded {
			e.metrics.IncHandlerTimeout(msg.Kind)
			err = service.Wrap(service.KindTimeout, err)
		}
		e.log.WithField("kind", msg.Kind).WithField("error", err).Error("executor: handler failed")
	}

	if ackErr := e.q.Ack(ctx, msg); ackErr != nil {
		e.log.WithField("error", ackErr).Error("executor: ack failed")
	}
}

func (e *Executor) timeoutFor(kind queue.Kind) time.Duration {
	switch kind {
	case queue.KindMonitor:
		return e.cfg.MonitorTimeout
	case queue.KindEvent:
		return e.cfg.ReactionTimeout
	default:
		return e.cfg.RequestTimeout
	}
}

// heartbeat extends the message's queue visibility and, once a monitor
// run token is set, bumps the Store heartbeat, every HeartbeatInterval
// until the handler completes.
type heartbeat struct {
	e     *Executor
	msg   *queue.Message
	done  chan struct{}
	token storage.RunToken
	set   bool
	mu    sync.Mutex
}

func newHeartbeat(e *Executor, msg *queue.Message) *heartbeat {
	return &heartbeat{e: e, msg: msg, done: make(chan struct{})}
}

func (h *heartbeat) setToken(token storage.RunToken) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
	h.set = true
}

func (h *heartbeat) stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *heartbeat) run(ctx context.Context) {
	ticker := time.NewTicker(h.e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.e.q.ExtendVisibility(ctx, h.msg, h.e.cfg.VisibilityWindow); err != nil {
				h.e.log.WithField("error", err).Warn("executor: extend visibility failed")
			}
			h.mu.Lock()
			token, set := h.token, h.set
			h.mu.Unlock()
			if set {
				if err := h.e.store.Heartbeat(ctx, token, time.Now().UTC()); err != nil {
					h.e.log.WithField("error", err).Warn("executor: store heartbeat failed")
				}
			}
		}
	}
}

func (e *Executor) dispatch(ctx context.Context, msg *queue.Message, hb *heartbeat) error {
	switch msg.Kind {
	case queue.KindMonitor:
		return e.handleMonitorMessage(ctx, msg.Payload, hb)
	case queue.KindEvent:
		return e.handleEventMessage(ctx, msg.Payload)
	case queue.KindRequest:
		return e.handleRequestMessage(ctx, msg.Payload)
	default:
		return fmt.Errorf("executor: unknown message kind %q", msg.Kind)
	}
}

type monitorMessage struct {
	MonitorID   int64  `json:"monitor_id"`
	MonitorName string `json:"monitor_name"`
	Kind        string `json:"kind"`
}

type eventMessage struct {
	MonitorName string      `json:"monitor_name"`
	Event       event.Event `json:"event"`
}

type requestMessage struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

func decode[T any](raw json.RawMessage) (T, error) {
	var out T
	err := json.Unmarshal(raw, &out)
	return out, err
}
