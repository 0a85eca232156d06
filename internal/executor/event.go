package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sentinela/sentinela/internal/core/service"
)

// handleEventMessage implements spec.md 4.5's event message handler:
// look up every reaction callback registered for (monitor, event name)
// and invoke it. A reaction failure is logged and counted, the remaining
// reactions still run, and the last failure is returned classified as
// service.KindUserCallback; reactions do not write new Store events
// themselves.
func (e *Executor) handleEventMessage(ctx context.Context, raw json.RawMessage) error {
	msg, err := decode[eventMessage](raw)
	if err != nil {
		return fmt.Errorf("decode event message: %w", err)
	}

	def, ok := e.reg.Lookup(msg.MonitorName)
	if !ok {
		return nil
	}

	names := def.Monitor.Options.Reactions[string(msg.Event.Name)]
	var lastErr error
	for _, name := range names {
		if err := def.Callable.Reaction(ctx, name, msg.Event); err != nil {
			e.metrics.IncReactionExecutionError()
			e.log.WithField("monitor", msg.MonitorName).
				WithField("reaction", name).
				WithField("event", msg.Event.Name).
				WithField("error", err).
				Error("executor: reaction failed")
			lastErr = err
		}
	}
	return service.Wrap(service.KindUserCallback, lastErr)
}
