// Package errors provides standardized error handling patterns for dataports.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, non-retryable) and Fatal (unrecoverable, stop processing).
//
// The port runtime maps its failure modes onto these classes:
//
//   - Handle registry exhaustion is Fatal (ErrRegistryExhausted).
//   - Stale handles resolve to "not found"; ErrStaleHandle is only used when a
//     caller needs an error value, and it is Invalid.
//   - Connecting ports of different types or closing a cycle is Invalid
//     (ErrTypeMismatch, ErrCycle).
//   - Network pull failures are Transient (ErrPullTimeout, ErrRemotePull). The
//     network adapter recovers from them locally and never hands them to Pull callers.
//   - Queue overflow and bounds violations are policy, not errors.
//
// Contract violations (publishing a buffer owned by another thread, publishing
// into a deleted port) are caller bugs. They panic through Misuse instead of
// returning an error.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Adapter", "Pull", "remote call")
//	errors.WrapInvalid(err, "Port", "ConnectTo", "type check")
//	errors.WrapFatal(err, "Registry", "Add", "slot allocation")
//
// The generic Wrap() preserves the original error's classification:
//
//	errors.Wrap(err, "Component", "Method", "action")
//
// # Integration with errors.As/Is
//
//	var ce *errors.ClassifiedError
//	if errors.As(err, &ce) {
//	    slog.Warn("classified failure", "component", ce.Component, "class", ce.Class)
//	}
//
//	if errors.Is(err, errors.ErrPullTimeout) {
//	    // fall back to the last local value
//	}
//
// Context errors (context.DeadlineExceeded, context.Canceled) are classified
// as Transient.
package errors
