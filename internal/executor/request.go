package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// handleRequestMessage implements spec.md 4.5's request message handler:
// dispatch a named action to a built-in handler, falling back to a
// plugin handler registered for the action's prefix.
func (e *Executor) handleRequestMessage(ctx context.Context, raw json.RawMessage) error {
	msg, err := decode[requestMessage](raw)
	if err != nil {
		return fmt.Errorf("decode request message: %w", err)
	}

	if h, ok := e.actions[msg.Action]; ok {
		return h(ctx, msg.Params)
	}
	for _, p := range e.prefixes {
		if strings.HasPrefix(msg.Action, p.prefix) {
			return p.handler(ctx, msg.Params)
		}
	}
	return fmt.Errorf("executor: no handler registered for action %q", msg.Action)
}
