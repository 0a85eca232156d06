package service

import "errors"

// Kind classifies an error surfaced by the core so callers can meter and
// react without inspecting error strings.
type Kind string

const (
	// KindTransientStore covers connection acquire/timeout failures. The
	// caller's surrounding transaction boundary is expected to retry.
	KindTransientStore Kind = "transient_store"
	// KindUserCallback covers any failure raised from search/update/
	// is_solved/reaction.
	KindUserCallback Kind = "user_callback"
	// KindTimeout covers a handler exceeding its bound.
	KindTimeout Kind = "timeout"
	// KindNotRegistered covers a message referencing an unknown monitor.
	KindNotRegistered Kind = "not_registered"
	// KindValidation covers register/validate-time failures; Store state
	// is left unchanged.
	KindValidation Kind = "validation"
	// KindFatal covers config parse, schema missing, or plugin load
	// failures that should refuse process startup.
	KindFatal Kind = "fatal"
)

// Error wraps an underlying error with its classification. Wrap at the
// boundary where the failure is first observed; never let a bare error
// cross a handler loop uncounted.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err as Kind. Returns nil if err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the classification of err, if any was attached via Wrap.
func KindOf(err error) (Kind, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind, true
	}
	return "", false
}

// Is reports whether err was classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
