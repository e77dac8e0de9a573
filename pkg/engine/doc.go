// Package engine provides the classified error model shared by the launchpad packages.
//
// # Overview
//
// Every failure on the evaluator launch path is returned as an *EngineError.
// The error carries a class, used by orchestrators to decide whether to retry,
// and a code, used by callers to branch on the specific failure:
//
//	ev, err := registry.Allocate(ctx, "")
//	...
//	if err := ev.SubmitContext(ctx, contextConfig); err != nil {
//	    switch {
//	    case engine.HasCode(err, engine.ErrCodePolicyDenied):
//	        // fix the descriptor, do not retry
//	    case engine.IsRetryable(err):
//	        // allocate a new evaluator and try again
//	    }
//	}
//
// # Error Classes
//
//   - Transient: the dispatch target was briefly unreachable
//   - Throttled: rate limiting or quota exhaustion
//   - Conflict: lifecycle misuse such as launching an evaluator twice
//   - Permanent: invalid configuration or a denied launch
//
// Only transient and throttled errors are retryable.
//
// # Error Codes
//
// Codes are stable strings. HasCode walks the whole chain, so a DISPATCH_FAILED
// error wrapping a CONFIGURATION_MERGE cause matches both codes.
package engine
