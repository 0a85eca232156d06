package registrar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinela/sentinela/internal/domain/monitor"
)

type fakeStore struct {
	byName     map[string]monitor.Monitor
	registered []monitor.Monitor
}

func newFakeStore() *fakeStore {
	return &fakeStore{byName: map[string]monitor.Monitor{}}
}

func (f *fakeStore) GetMonitorByName(_ context.Context, name string) (monitor.Monitor, error) {
	if m, ok := f.byName[name]; ok {
		return m, nil
	}
	return monitor.Monitor{}, errors.New("not found")
}

func (f *fakeStore) RegisterMonitor(_ context.Context, m monitor.Monitor) (monitor.Monitor, error) {
	m.ID = int64(len(f.registered) + 1)
	f.byName[m.Name] = m
	f.registered = append(f.registered, m)
	return m, nil
}

func writeMonitorDir(t *testing.T, root, name, manifestYAML, source string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "monitor.yaml"), []byte(manifestYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "source.js"), []byte(source), 0o644))
}

func TestRegisterInitialMonitorsLoadsFromDisk(t *testing.T) {
	root := t.TempDir()
	writeMonitorDir(t, root, "disk_usage", `
name: disk usage
search_cron: "*/5 * * * *"
solvable: true
unique: true
rule:
  kind: count
  levels:
    - {name: high, priority: 2, threshold: 0}
`, `function search() { return []; }`)

	store := newFakeStore()
	r := New(store, root, "", false)

	require.NoError(t, r.RegisterInitialMonitors(context.Background()))
	require.Len(t, store.registered, 1)
	assert.Equal(t, "disk_usage", store.registered[0].Name)
	assert.Equal(t, monitor.RuleCount, store.registered[0].Options.Rule.Kind)
}

func TestRegisterInitialMonitorsSkipsAlreadyRegistered(t *testing.T) {
	root := t.TempDir()
	writeMonitorDir(t, root, "existing", `name: existing`, `function search() { return []; }`)

	store := newFakeStore()
	store.byName["existing"] = monitor.Monitor{ID: 99, Name: "existing"}

	r := New(store, root, "", false)
	require.NoError(t, r.RegisterInitialMonitors(context.Background()))
	assert.Empty(t, store.registered)
}

func TestRegisterInitialMonitorsSkipsSamplesWhenDisabled(t *testing.T) {
	internalRoot := t.TempDir()
	sampleRoot := t.TempDir()
	writeMonitorDir(t, sampleRoot, "sample_one", `name: sample one`, `function search() { return []; }`)

	store := newFakeStore()
	r := New(store, internalRoot, sampleRoot, false)
	require.NoError(t, r.RegisterInitialMonitors(context.Background()))
	assert.Empty(t, store.registered)
}

func TestRegisterInitialMonitorsLoadsSamplesWhenEnabled(t *testing.T) {
	internalRoot := t.TempDir()
	sampleRoot := t.TempDir()
	writeMonitorDir(t, sampleRoot, "sample_one", `name: sample one`, `function search() { return []; }`)

	store := newFakeStore()
	r := New(store, internalRoot, sampleRoot, true)
	require.NoError(t, r.RegisterInitialMonitors(context.Background()))
	require.Len(t, store.registered, 1)
	assert.Equal(t, "sample_one", store.registered[0].Name)
}

func TestLoadDefinitionsMissingDirIsNotAnError(t *testing.T) {
	defs, err := loadDefinitions(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, defs)
}
