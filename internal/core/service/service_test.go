package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClampLimit(t *testing.T) {
	cases := []struct {
		name                  string
		limit, def, max, want int
	}{
		{"zero uses default", 0, 25, 100, 25},
		{"negative uses default", -5, 25, 100, 25},
		{"within bounds passes through", 40, 25, 100, 40},
		{"above max clamps", 500, 25, 100, 100},
		{"default falls back when unset", 10, 0, 0, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClampLimit(tc.limit, tc.def, tc.max); got != tc.want {
				t.Fatalf("ClampLimit(%d, %d, %d) = %d, want %d", tc.limit, tc.def, tc.max, got, tc.want)
			}
		})
	}
}

func TestLimitFromQueryFallsBackOnGarbage(t *testing.T) {
	if got := LimitFromQuery("not-a-number", 25, 100); got != 25 {
		t.Fatalf("expected default for unparseable input, got %d", got)
	}
	if got := LimitFromQuery("40", 25, 100); got != 40 {
		t.Fatalf("expected parsed value 40, got %d", got)
	}
}

func TestRetrySucceedsWithoutExhaustingAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 5}, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryReturnsLastErrorAfterExhaustingAttempts(t *testing.T) {
	wantErr := errors.New("permanent")
	err := Retry(context.Background(), RetryPolicy{Attempts: 2}, func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestRetryStopsEarlyWhenErrorIsNotRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{
		Attempts:  5,
		Retryable: func(err error) bool { return false },
	}, func() error {
		calls++
		return errors.New("deterministic")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call when error is not retryable, got %d", calls)
	}
}

func TestRetryHonorsContextCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryPolicy{Attempts: 3, InitialBackoff: time.Hour}, func() error {
		return errors.New("fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartObservationFiresStartAndComplete(t *testing.T) {
	var started, completed bool
	var gotErr error
	var gotDuration time.Duration

	hooks := ObservationHooks{
		OnStart: func(_ context.Context, meta map[string]string) {
			started = true
			if meta["monitor"] != "disk_usage" {
				t.Fatalf("expected monitor meta to reach OnStart, got %v", meta)
			}
		},
		OnComplete: func(_ context.Context, _ map[string]string, err error, duration time.Duration) {
			completed = true
			gotErr = err
			gotDuration = duration
		},
	}

	complete := StartObservation(context.Background(), hooks, map[string]string{"monitor": "disk_usage"})
	if !started {
		t.Fatalf("expected OnStart to fire immediately")
	}
	wantErr := errors.New("boom")
	complete(wantErr)

	if !completed {
		t.Fatalf("expected OnComplete to fire")
	}
	if !errors.Is(gotErr, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, gotErr)
	}
	if gotDuration < 0 {
		t.Fatalf("expected non-negative duration, got %v", gotDuration)
	}
}

func TestNoopObservationHooksDoesNothing(t *testing.T) {
	complete := StartObservation(context.Background(), NoopObservationHooks, nil)
	complete(errors.New("ignored"))
}

func TestWrapNilErrorReturnsNil(t *testing.T) {
	if err := Wrap(KindTimeout, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWrapClassifiesAndUnwraps(t *testing.T) {
	root := errors.New("connection refused")
	wrapped := Wrap(KindTransientStore, root)

	if !errors.Is(wrapped, root) {
		t.Fatalf("expected wrapped error to unwrap to root cause")
	}
	kind, ok := KindOf(wrapped)
	if !ok || kind != KindTransientStore {
		t.Fatalf("expected KindTransientStore, got %v (ok=%v)", kind, ok)
	}
	if !Is(wrapped, KindTransientStore) {
		t.Fatalf("expected Is to report true for matching kind")
	}
	if Is(wrapped, KindFatal) {
		t.Fatalf("expected Is to report false for mismatched kind")
	}
}

func TestKindOfUnclassifiedErrorIsFalse(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	if ok {
		t.Fatalf("expected plain error to carry no classification")
	}
}
