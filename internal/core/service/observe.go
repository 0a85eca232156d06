package service

import (
	"context"
	"time"
)

// ObservationHooks lets a caller observe the start and end of a bounded
// operation (a monitor run, a reaction, a request action) without that
// operation's own code needing to know who's watching.
type ObservationHooks struct {
	OnStart    func(ctx context.Context, meta map[string]string)
	OnComplete func(ctx context.Context, meta map[string]string, err error, duration time.Duration)
}

// NoopObservationHooks observes nothing; the zero value does the same.
var NoopObservationHooks = ObservationHooks{}

// StartObservation fires OnStart immediately and returns a function the
// caller invokes with the operation's outcome once it finishes, which
// fires OnComplete with the elapsed duration.
func StartObservation(ctx context.Context, hooks ObservationHooks, meta map[string]string) func(error) {
	if hooks.OnStart != nil {
		hooks.OnStart(ctx, meta)
	}
	start := time.Now()
	return func(err error) {
		if hooks.OnComplete != nil {
			hooks.OnComplete(ctx, meta, err, time.Since(start))
		}
	}
}
