// Package jsmonitor compiles a Monitor's JavaScript source into a
// registry.Callable by running it in a sandboxed goja runtime. Each
// invocation gets a fresh runtime: goja.Runtime is not safe for
// concurrent use, and monitors must not retain state across the at-most-
// one-in-flight execution boundary anyway.
package jsmonitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/sentinela/sentinela/internal/domain/event"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/registry"
)

// VariableAccess is the capability a compiled monitor gets for the
// get_variable/set_variable builtins, backed by storage.VariableStore
// through a small seam so this package does not import internal/storage
// directly.
type VariableAccess interface {
	GetVariable(ctx context.Context, monitorID int64, key string) ([]byte, bool, error)
	SetVariable(ctx context.Context, monitorID int64, key string, value []byte) error
}

// QueryAccess is the capability behind the query builtin, backed by the
// named connection pools from databases_pools_configs. Nil disables the
// builtin entirely (e.g. no pools configured for this deployment).
type QueryAccess interface {
	Query(ctx context.Context, pool, query string, args ...any) ([]map[string]any, error)
}

// Compiler implements registry.Compiler over goja.
type Compiler struct {
	vars    VariableAccess
	queries QueryAccess
}

func NewCompiler(vars VariableAccess, queries QueryAccess) *Compiler {
	return &Compiler{vars: vars, queries: queries}
}

var _ registry.Compiler = (*Compiler)(nil)

func (c *Compiler) Compile(m monitor.Monitor) (registry.Callable, error) {
	if m.Source == "" {
		return nil, errors.New("jsmonitor: monitor source is empty")
	}
	return &callable{monitor: m, vars: c.vars, queries: c.queries}, nil
}

type callable struct {
	monitor monitor.Monitor
	vars    VariableAccess
	queries QueryAccess
}

func (c *callable) newRuntime(ctx context.Context) (*goja.Runtime, func(), error) {
	rt := goja.New()
	if err := attachConsole(rt); err != nil {
		return nil, nil, err
	}
	if err := attachVariables(ctx, rt, c.monitor.ID, c.vars); err != nil {
		return nil, nil, err
	}
	if err := attachQuery(ctx, rt, c.queries); err != nil {
		return nil, nil, err
	}
	for name, body := range c.monitor.CompanionFiles {
		if _, err := rt.RunScript(name, body); err != nil {
			return nil, nil, fmt.Errorf("jsmonitor: load companion %q: %w", name, err)
		}
	}
	if _, err := rt.RunString(c.monitor.Source); err != nil {
		return nil, nil, fmt.Errorf("jsmonitor: load source: %w", err)
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			rt.Interrupt(ctx.Err())
		case <-stop:
		}
	}()
	return rt, func() { close(stop) }, nil
}

func (c *callable) Search(ctx context.Context) ([]map[string]any, error) {
	rt, cancel, err := c.newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	val, err := callGlobal(rt, "search")
	if err != nil {
		return nil, runtimeError(err, ctx, "search")
	}
	return exportIssueList(val), nil
}

func (c *callable) Update(ctx context.Context, active []map[string]any) ([]map[string]any, error) {
	rt, cancel, err := c.newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	val, err := callGlobal(rt, "update", rt.ToValue(active))
	if err != nil {
		return nil, runtimeError(err, ctx, "update")
	}
	return exportIssueList(val), nil
}

func (c *callable) IsSolved(ctx context.Context, data map[string]any) (bool, error) {
	rt, cancel, err := c.newRuntime(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	val, err := callGlobal(rt, "is_solved", rt.ToValue(data))
	if err != nil {
		return false, runtimeError(err, ctx, "is_solved")
	}
	if val == nil {
		return false, nil
	}
	b, ok := val.Export().(bool)
	return ok && b, nil
}

func (c *callable) Reaction(ctx context.Context, name string, ev event.Event) error {
	rt, cancel, err := c.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	payload := map[string]any{
		"name":              ev.Name,
		"data":              ev.Data,
		"source_id":         ev.SourceID,
		"source_monitor_id": ev.SourceMonitorID,
		"created_at":        ev.CreatedAt,
	}
	_, err = callGlobal(rt, name, rt.ToValue(payload))
	if err != nil {
		return runtimeError(err, ctx, "reaction:"+name)
	}
	return nil
}

func callGlobal(rt *goja.Runtime, name string, args ...goja.Value) (goja.Value, error) {
	fnVal := rt.Get(name)
	if goja.IsUndefined(fnVal) || goja.IsNull(fnVal) {
		return nil, nil
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("jsmonitor: %q is not a function", name)
	}
	return fn(goja.Undefined(), args...)
}

func exportIssueList(val goja.Value) []map[string]any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	exported := val.Export()
	items, ok := exported.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func attachConsole(rt *goja.Runtime) error {
	console := rt.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(name, logFn); err != nil {
			return err
		}
	}
	return rt.Set("console", console)
}

func attachVariables(ctx context.Context, rt *goja.Runtime, monitorID int64, vars VariableAccess) error {
	if vars == nil {
		return nil
	}
	get := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		key := call.Arguments[0].String()
		value, found, err := vars.GetVariable(ctx, monitorID, key)
		if err != nil || !found {
			return goja.Undefined()
		}
		return rt.ToValue(string(value))
	}
	set := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			return goja.Undefined()
		}
		key := call.Arguments[0].String()
		value := call.Arguments[1].String()
		_ = vars.SetVariable(ctx, monitorID, key, []byte(value))
		return goja.Undefined()
	}
	if err := rt.Set("get_variable", get); err != nil {
		return err
	}
	return rt.Set("set_variable", set)
}

// attachQuery exposes query(poolName, sql, ...args) to monitor source,
// returning an array of row objects or throwing a JS error the monitor's
// own try/catch can handle. A nil QueryAccess (no pools configured)
// leaves the builtin unset, so calling it surfaces goja's own
// "query is not defined" rather than a silent no-op.
func attachQuery(ctx context.Context, rt *goja.Runtime, queries QueryAccess) error {
	if queries == nil {
		return nil
	}
	fn := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(rt.NewTypeError("query(pool, sql, ...args) requires at least 2 arguments"))
		}
		pool := call.Arguments[0].String()
		sqlText := call.Arguments[1].String()
		args := make([]any, 0, len(call.Arguments)-2)
		for _, a := range call.Arguments[2:] {
			args = append(args, a.Export())
		}
		rows, err := queries.Query(ctx, pool, sqlText, args...)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return rt.ToValue(rows)
	}
	return rt.Set("query", fn)
}

func runtimeError(err error, ctx context.Context, when string) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", when, ctxErr)
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%s: interrupted", when)
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return fmt.Errorf("%s: %s", when, exc.Error())
	}
	return fmt.Errorf("%s: %w", when, err)
}
