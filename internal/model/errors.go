package model

import "errors"

// Error kinds named in spec.md §7. These are sentinel errors rather than a
// typed hierarchy, matching the teacher's own style of plain wrapped stdlib
// errors (internal/flow/client.go classifies gRPC codes the same way: a
// handful of errors.Is-comparable sentinels, nothing fancier).
var (
	// ErrUnknownTask: C1, task/group name not found in the catalogue.
	ErrUnknownTask = errors.New("model: unknown task")

	// ErrBadParams: C4, params bound at fetcher build time are invalid
	// (unknown param name, or a required param omitted).
	ErrBadParams = errors.New("model: bad params")

	// ErrSchemaMismatch: C4, vendor response is missing an expected column.
	ErrSchemaMismatch = errors.New("model: schema mismatch")

	// ErrCancelled: returned by rate_limit.Acquire and by workers observing
	// the process-wide cancel signal. Never retried; the task is treated as
	// succeeded-noop per spec.md §4.5.
	ErrCancelled = errors.New("model: cancelled")

	// Vendor error taxonomy (spec.md §6).
	ErrTimeout      = errors.New("model: vendor timeout")
	ErrRateLimited  = errors.New("model: vendor rate limited")
	ErrServerError  = errors.New("model: vendor server error")
	ErrBadRequest   = errors.New("model: vendor bad request")
	ErrVendorEmpty  = errors.New("model: vendor returned empty result")
)

// Transient reports whether kind should be retried with backoff per the
// error-handling table in spec.md §7.
func Transient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError)
}

// Permanent reports whether kind must be dead-lettered immediately without
// retry.
func Permanent(err error) bool {
	return errors.Is(err, ErrBadParams) || errors.Is(err, ErrSchemaMismatch) || errors.Is(err, ErrBadRequest)
}
