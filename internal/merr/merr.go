// Package merr defines the closed error taxonomy the core uses to decide
// whether a failure degrades to a fallback, retries, or surfaces to a caller.
package merr

import "fmt"

// Kind identifies which taxonomy bucket an error belongs to.
type Kind string

const (
	KindConfig                Kind = "config_error"
	KindStorageTransient      Kind = "storage_transient"
	KindStorageFatal          Kind = "storage_fatal"
	KindStorageConflict       Kind = "storage_conflict"
	KindClassifierUnavailable Kind = "classifier_unavailable"
	KindClassifierMalformed   Kind = "classifier_malformed"
	KindPlannerTimeout        Kind = "planner_timeout"
	KindInterceptorAttach     Kind = "interceptor_attach_failure"
	KindQueueOverflow         Kind = "queue_overflow"
)

// Error wraps an underlying cause with a taxonomy Kind. It satisfies
// errors.Is/errors.As: errors.Is(err, merr.StorageFatal) matches any Error
// whose Kind is KindStorageFatal, regardless of the wrapped cause.
type Error struct {
	Kind Kind
	Op   string // the verb/method that produced the error, e.g. "Store.put_memory"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same Kind, so callers can
// write errors.Is(err, merr.StorageFatal).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Err != nil {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Sentinels for errors.Is comparisons, e.g. errors.Is(err, merr.StorageFatal).
var (
	ConfigError              = &Error{Kind: KindConfig}
	StorageTransient         = &Error{Kind: KindStorageTransient}
	StorageFatal             = &Error{Kind: KindStorageFatal}
	StorageConflict          = &Error{Kind: KindStorageConflict}
	ClassifierUnavailable    = &Error{Kind: KindClassifierUnavailable}
	ClassifierMalformed      = &Error{Kind: KindClassifierMalformed}
	PlannerTimeout           = &Error{Kind: KindPlannerTimeout}
	InterceptorAttachFailure = &Error{Kind: KindInterceptorAttach}
	QueueOverflow            = &Error{Kind: KindQueueOverflow}
)

// Degrades reports whether an error of this kind must degrade to a fallback
// rather than propagate, per the propagation policy in the error design.
func Degrades(kind Kind) bool {
	switch kind {
	case KindClassifierUnavailable, KindClassifierMalformed, KindPlannerTimeout,
		KindInterceptorAttach, KindQueueOverflow, KindStorageTransient:
		return true
	default:
		return false
	}
}
