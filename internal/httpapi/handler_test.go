package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/registry"
	"github.com/sentinela/sentinela/internal/storage"
	"github.com/sentinela/sentinela/internal/storage/memory"
)

func storageExecution(monitorID int64) storage.Execution {
	now := time.Now().UTC()
	return storage.Execution{
		MonitorID: monitorID,
		Kind:      storage.RunKindSearch,
		StartedAt: now,
		EndedAt:   now,
		Outcome:   storage.RunOutcomeSuccess,
	}
}

type fakeRegistry struct {
	defs     map[string]registry.Definition
	reloaded bool
}

func (r *fakeRegistry) Lookup(name string) (registry.Definition, bool) {
	def, ok := r.defs[monitor.Normalize(name)]
	return def, ok
}
func (r *fakeRegistry) Len() int { return len(r.defs) }
func (r *fakeRegistry) SignalReload() { r.reloaded = true }

type fakeCompiler struct {
	failOn map[string]bool
}

func (c *fakeCompiler) Compile(m monitor.Monitor) (registry.Callable, error) {
	if c.failOn[m.Name] {
		return nil, assertErr("syntax error")
	}
	return nil, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func newTestHandler(t *testing.T) (http.Handler, *memory.Store, *fakeRegistry) {
	t.Helper()
	store := memory.New()
	reg := &fakeRegistry{defs: map[string]registry.Definition{}}
	compiler := &fakeCompiler{failOn: map[string]bool{"broken": true}}
	h := NewHandler(store, reg, compiler, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return h, store, reg
}

func TestMonitorRegisterAndList(t *testing.T) {
	h, _, reg := newTestHandler(t)

	body, _ := json.Marshal(monitor.Monitor{Enabled: true, Source: "function search() { return [] }"})
	req := httptest.NewRequest(http.MethodPost, "/monitor/register/disk_usage", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, reg.reloaded)

	req = httptest.NewRequest(http.MethodGet, "/monitor/list", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var monitors []monitor.Monitor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &monitors))
	require.Len(t, monitors, 1)
	assert.Equal(t, "disk_usage", monitors[0].Name)
}

func TestMonitorGetNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/monitor/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMonitorExecutionsAppliesLimit(t *testing.T) {
	h, store, _ := newTestHandler(t)
	m, err := store.RegisterMonitor(context.Background(), monitor.Monitor{Name: "disk_usage", Enabled: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.RecordExecution(context.Background(), storageExecution(m.ID))
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/monitor/disk_usage/executions?limit=2", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var execs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &execs))
	assert.Len(t, execs, 2)
}

func TestMonitorExecutionsNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/monitor/missing/executions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMonitorValidateReportsCompileError(t *testing.T) {
	h, _, _ := newTestHandler(t)
	body, _ := json.Marshal(monitor.Monitor{Name: "broken"})
	req := httptest.NewRequest(http.MethodPost, "/monitor/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["valid"])
}

func TestMonitorValidateAccepts(t *testing.T) {
	h, _, _ := newTestHandler(t)
	body, _ := json.Marshal(monitor.Monitor{Name: "ok_monitor"})
	req := httptest.NewRequest(http.MethodPost, "/monitor/validate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["valid"])
}

func TestMonitorEnableDisable(t *testing.T) {
	h, store, reg := newTestHandler(t)
	m, err := store.RegisterMonitor(context.Background(), monitor.Monitor{Name: "disk_usage", Enabled: false})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/monitor/"+m.Name+"/enable", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, reg.reloaded)

	got, err := store.GetMonitorByName(context.Background(), m.Name)
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	req = httptest.NewRequest(http.MethodPost, "/monitor/"+m.Name+"/disable", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err = store.GetMonitorByName(context.Background(), m.Name)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestAlertAcknowledgeLockSolve(t *testing.T) {
	h, store, _ := newTestHandler(t)
	ctx := context.Background()
	m, err := store.RegisterMonitor(ctx, monitor.Monitor{Name: "disk_usage", Enabled: true})
	require.NoError(t, err)
	_, _, err = store.UpsertIssue(ctx, m.ID, "host-1", map[string]any{"usage": 95}, true)
	require.NoError(t, err)
	rule := monitor.Rule{Kind: monitor.RuleCount, Levels: []monitor.Level{{Name: "high", Priority: monitor.P2High, Threshold: 0}}}
	_, err = store.RecomputeAlert(ctx, m.ID, rule, false, time.Now().UTC())
	require.NoError(t, err)
	a, ok, err := store.OpenAlertForMonitor(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, ok)

	id := itoa(a.ID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alert/"+id+"/acknowledge", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alert/"+id+"/lock", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alert/"+id+"/solve", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIssueDrop(t *testing.T) {
	h, store, _ := newTestHandler(t)
	ctx := context.Background()
	m, err := store.RegisterMonitor(ctx, monitor.Monitor{Name: "disk_usage", Enabled: true})
	require.NoError(t, err)
	issueID, _, err := store.UpsertIssue(ctx, m.ID, "host-1", nil, true)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/issue/"+itoa(issueID)+"/drop", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetIssue(ctx, issueID)
	require.NoError(t, err)
	assert.Equal(t, "dropped", string(got.Status))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
