package jsmonitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/monitor"
)

type fakeVars struct {
	store map[string][]byte
}

func (f *fakeVars) GetVariable(ctx context.Context, monitorID int64, key string) ([]byte, bool, error) {
	v, ok := f.store[key]
	return v, ok, nil
}

func (f *fakeVars) SetVariable(ctx context.Context, monitorID int64, key string, value []byte) error {
	if f.store == nil {
		f.store = make(map[string][]byte)
	}
	f.store[key] = value
	return nil
}

type fakeQueries struct {
	rows map[string][]map[string]any
	err  error
}

func (f *fakeQueries) Query(ctx context.Context, pool, query string, args ...any) ([]map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[pool], nil
}

func TestSearchReturnsIssueList(t *testing.T) {
	c := NewCompiler(&fakeVars{}, nil)
	m := monitor.Monitor{ID: 1, Source: `
		function search() {
			return [{model_id: "a", title: "disk full"}];
		}
	`}
	callable, err := c.Compile(m)
	require.NoError(t, err)

	issues, err := callable.Search(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "disk full", issues[0]["title"])
}

func TestUpdateReceivesActiveIssues(t *testing.T) {
	c := NewCompiler(&fakeVars{}, nil)
	m := monitor.Monitor{ID: 1, Source: `
		function update(active) {
			return active.map(function(i) { return {model_id: i.model_id, title: i.title + "!"}; });
		}
	`}
	callable, err := c.Compile(m)
	require.NoError(t, err)

	issues, err := callable.Update(context.Background(), []map[string]any{{"model_id": "a", "title": "disk full"}})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "disk full!", issues[0]["title"])
}

func TestIsSolvedDefaultsFalseWhenUndefined(t *testing.T) {
	c := NewCompiler(&fakeVars{}, nil)
	m := monitor.Monitor{ID: 1, Source: `function search() { return []; }`}
	callable, err := c.Compile(m)
	require.NoError(t, err)

	solved, err := callable.IsSolved(context.Background(), map[string]any{"model_id": "a"})
	require.NoError(t, err)
	assert.False(t, solved)
}

func TestIsSolvedHonorsReturnValue(t *testing.T) {
	c := NewCompiler(&fakeVars{}, nil)
	m := monitor.Monitor{ID: 1, Source: `
		function is_solved(data) { return data.model_id === "a"; }
	`}
	callable, err := c.Compile(m)
	require.NoError(t, err)

	solved, err := callable.IsSolved(context.Background(), map[string]any{"model_id": "a"})
	require.NoError(t, err)
	assert.True(t, solved)
}

func TestReactionMissingHandlerIsNotAnError(t *testing.T) {
	c := NewCompiler(&fakeVars{}, nil)
	m := monitor.Monitor{ID: 1, Source: `function search() { return []; }`}
	callable, err := c.Compile(m)
	require.NoError(t, err)

	err = callable.Reaction(context.Background(), "on_notify", event.Event{Name: event.AlertCreated})
	assert.NoError(t, err)
}

func TestGetSetVariableRoundTrip(t *testing.T) {
	vars := &fakeVars{}
	c := NewCompiler(vars, nil)
	m := monitor.Monitor{ID: 7, Source: `
		function search() {
			set_variable("cursor", "42");
			return [{cursor: get_variable("cursor")}];
		}
	`}
	callable, err := c.Compile(m)
	require.NoError(t, err)

	issues, err := callable.Search(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "42", issues[0]["cursor"])
	assert.Equal(t, []byte("42"), vars.store["cursor"])
}

func TestQueryBuiltinReturnsRows(t *testing.T) {
	queries := &fakeQueries{rows: map[string][]map[string]any{
		"reporting": {{"id": int64(1), "status": "done"}},
	}}
	c := NewCompiler(&fakeVars{}, queries)
	m := monitor.Monitor{ID: 1, Source: `
		function search() {
			var rows = query("reporting", "SELECT id, status FROM jobs");
			return rows.map(function(r) { return {model_id: String(r.id), title: r.status}; });
		}
	`}
	callable, err := c.Compile(m)
	require.NoError(t, err)

	issues, err := callable.Search(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "done", issues[0]["title"])
}

func TestQueryBuiltinUnsetWithoutQueryAccess(t *testing.T) {
	c := NewCompiler(&fakeVars{}, nil)
	m := monitor.Monitor{ID: 1, Source: `
		function search() {
			query("reporting", "SELECT 1");
			return [];
		}
	`}
	callable, err := c.Compile(m)
	require.NoError(t, err)

	_, err = callable.Search(context.Background())
	assert.Error(t, err)
}

func TestCompileRejectsEmptySource(t *testing.T) {
	c := NewCompiler(&fakeVars{}, nil)
	_, err := c.Compile(monitor.Monitor{ID: 1})
	assert.Error(t, err)
}
