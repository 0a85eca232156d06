package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinela/sentinela/internal/core/service"
	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/registry"
	"github.com/sentinela/sentinela/internal/storage"
	"github.com/sentinela/sentinela/internal/storage/memory"
	"github.com/sentinela/sentinela/pkg/logger"
)

type fakeCallable struct {
	searchResult []map[string]any
	searchErr    error
	reactionErr  map[string]error
	reactionHits []string
}

func (f *fakeCallable) Search(ctx context.Context) ([]map[string]any, error) {
	return f.searchResult, f.searchErr
}

func (f *fakeCallable) Update(ctx context.Context, active []map[string]any) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeCallable) IsSolved(ctx context.Context, data map[string]any) (bool, error) {
	return false, nil
}

func (f *fakeCallable) Reaction(ctx context.Context, name string, ev event.Event) error {
	f.reactionHits = append(f.reactionHits, name)
	if f.reactionErr != nil {
		return f.reactionErr[name]
	}
	return nil
}

type fakeSource struct{ monitors []monitor.Monitor }

func (f *fakeSource) ListMonitors(ctx context.Context) ([]monitor.Monitor, error) {
	return f.monitors, nil
}

type fakeCompiler struct{ callables map[string]registry.Callable }

func (f *fakeCompiler) Compile(m monitor.Monitor) (registry.Callable, error) {
	return f.callables[m.Name], nil
}

type countingMetrics struct {
	notRegistered int
	execErrors    int
	reactionErrs  int
	timeouts      int
	runsRecorded  int
}

func (m *countingMetrics) IncMonitorNotRegistered()     { m.notRegistered++ }
func (m *countingMetrics) IncMonitorExecutionError()    { m.execErrors++ }
func (m *countingMetrics) IncReactionExecutionError()   { m.reactionErrs++ }
func (m *countingMetrics) IncHandlerTimeout(queue.Kind) { m.timeouts++ }
func (m *countingMetrics) IncSearchIssuesLimitReached() {}
func (m *countingMetrics) RecordMonitorRun(string, string, time.Duration) { m.runsRecorded++ }

func testLogger() *logger.Logger {
	return logger.New(logger.LoggingConfig{Level: "error"})
}

func newTestRegistry(t *testing.T, monitors []monitor.Monitor, callables map[string]registry.Callable) *registry.Registry {
	t.Helper()
	reg := registry.New(&fakeSource{monitors: monitors}, &fakeCompiler{callables: callables}, time.Hour, time.Second, testLogger())
	require.NoError(t, reg.Reload(context.Background()))
	return reg
}

func TestHandleMonitorMessageNotRegistered(t *testing.T) {
	store := memory.New()
	reg := newTestRegistry(t, nil, nil)
	metrics := &countingMetrics{}
	e := New(store, nil, reg, Config{}, testLogger(), metrics)

	m, err := store.RegisterMonitor(context.Background(), monitor.Monitor{Name: "unregistered", Source: "x", Enabled: true})
	require.NoError(t, err)
	_, err = store.ClaimMonitorForRun(context.Background(), m.ID, storage.RunKindSearch)
	require.NoError(t, err)

	payload, _ := json.Marshal(monitorMessage{MonitorID: m.ID, MonitorName: "unregistered", Kind: "search"})
	err = e.handleMonitorMessage(context.Background(), payload, newHeartbeat(e, &queue.Message{}))
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.notRegistered)
}

func TestHandleMonitorMessageSearchCreatesIssue(t *testing.T) {
	store := memory.New()
	callable := &fakeCallable{searchResult: []map[string]any{{"model_id": "disk-1", "title": "disk full"}}}

	m, err := store.RegisterMonitor(context.Background(), monitor.Monitor{
		Name:    "disk_usage",
		Source:  "x",
		Enabled: true,
		Options: monitor.Options{ModelIDKey: "model_id"},
	})
	require.NoError(t, err)
	reg := newTestRegistry(t, []monitor.Monitor{m}, map[string]registry.Callable{"disk_usage": callable})

	metrics := &countingMetrics{}
	e := New(store, nil, reg, Config{}, testLogger(), metrics)

	_, err = store.ClaimMonitorForRun(context.Background(), m.ID, storage.RunKindSearch)
	require.NoError(t, err)

	payload, _ := json.Marshal(monitorMessage{MonitorID: m.ID, MonitorName: "disk_usage", Kind: "search"})
	err = e.handleMonitorMessage(context.Background(), payload, newHeartbeat(e, &queue.Message{}))
	require.NoError(t, err)
	assert.Equal(t, 0, metrics.execErrors)
	assert.Equal(t, 1, metrics.runsRecorded)

	active, err := store.ActiveIssues(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "disk-1", active[0].ModelID)
}

func TestHandleMonitorMessageWrapsSearchErrorAsUserCallback(t *testing.T) {
	store := memory.New()
	callable := &fakeCallable{searchErr: errors.New("boom")}

	m, err := store.RegisterMonitor(context.Background(), monitor.Monitor{Name: "flaky", Source: "x", Enabled: true})
	require.NoError(t, err)
	reg := newTestRegistry(t, []monitor.Monitor{m}, map[string]registry.Callable{"flaky": callable})

	metrics := &countingMetrics{}
	e := New(store, nil, reg, Config{}, testLogger(), metrics)
	_, err = store.ClaimMonitorForRun(context.Background(), m.ID, storage.RunKindSearch)
	require.NoError(t, err)

	payload, _ := json.Marshal(monitorMessage{MonitorID: m.ID, MonitorName: "flaky", Kind: "search"})
	err = e.handleMonitorMessage(context.Background(), payload, newHeartbeat(e, &queue.Message{}))
	require.Error(t, err)
	assert.True(t, service.Is(err, service.KindUserCallback))
	assert.Equal(t, 1, metrics.execErrors)
}

func TestHandleEventMessageAggregatesReactionErrors(t *testing.T) {
	store := memory.New()
	callable := &fakeCallable{reactionErr: map[string]error{"notify_slack": errors.New("webhook down")}}

	m, err := store.RegisterMonitor(context.Background(), monitor.Monitor{
		Name:    "disk_usage",
		Source:  "x",
		Enabled: true,
		Options: monitor.Options{
			Reactions: map[string][]string{"issue_created": {"notify_slack", "notify_email"}},
		},
	})
	require.NoError(t, err)
	reg := newTestRegistry(t, []monitor.Monitor{m}, map[string]registry.Callable{"disk_usage": callable})

	metrics := &countingMetrics{}
	e := New(store, nil, reg, Config{}, testLogger(), metrics)

	payload, _ := json.Marshal(eventMessage{MonitorName: "disk_usage", Event: event.Event{Name: event.IssueCreated}})
	err = e.handleEventMessage(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, service.Is(err, service.KindUserCallback))
	assert.Equal(t, 1, metrics.reactionErrs)
	assert.ElementsMatch(t, []string{"notify_slack", "notify_email"}, callable.reactionHits)
}

func TestHandleEventMessageNoReactionsIsNoop(t *testing.T) {
	store := memory.New()
	m, err := store.RegisterMonitor(context.Background(), monitor.Monitor{Name: "quiet", Source: "x", Enabled: true})
	require.NoError(t, err)
	reg := newTestRegistry(t, []monitor.Monitor{m}, map[string]registry.Callable{"quiet": &fakeCallable{}})

	e := New(store, nil, reg, Config{}, testLogger(), nil)
	payload, _ := json.Marshal(eventMessage{MonitorName: "quiet", Event: event.Event{Name: event.IssueCreated}})
	err = e.handleEventMessage(context.Background(), payload)
	assert.NoError(t, err)
}
