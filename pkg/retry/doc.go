// Package retry runs an operation again after transient failures, with
// exponential backoff and jitter.
//
// Only errors the policy considers retryable are retried. By default that is
// errors.IsTransient, so invalid input and fatal failures return at once:
//
//	err := retry.Do(ctx, retry.Startup(), func(ctx context.Context) error {
//		return client.Connect(ctx)
//	})
//
// When every attempt fails the returned error wraps both ErrExhausted and the
// last failure.
package retry
