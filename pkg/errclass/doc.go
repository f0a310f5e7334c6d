// Package errclass classifies agent failures and owns the retry policy.
//
// Invariants:
// - Every failure maps to exactly one Kind; unclassifiable failures are recoverable.
// - Transient failures are retried in place; exhausting the attempt budget
//   downgrades them to recoverable.
// - Critical failures are never retried.
//
// Usage:
//
//	retrier := errclass.NewRetrier(errclass.DefaultPolicy(), logger)
//	rec := retrier.Do(ctx, errclass.ToolOrigin("web_search", true), 3, func(ctx context.Context) error {
//		_, err := handle.Invoke(ctx)
//		return err
//	})
//	if rec != nil && rec.Kind == errclass.KindCritical {
//		// abort
//	}
package errclass
