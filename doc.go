// Package guard provides a usage ledger and limit evaluator for metered
// features in Go applications.
//
// Guard counts how much of each feature every subject (a user, an API key, a
// tenant) has consumed, compares the counter against the subject's current
// limit and reports a severity that callers render as warnings or blocks.
// It provides:
//
//   - Atomic per-(subject, feature) counters that never lose concurrent updates
//   - Limits resolved from policy on every write, so plan changes apply at once
//   - Pure limit evaluation with severity and color bands
//   - A client-side tracker with auto-refresh and stale-response protection
//   - An HTTP API and a standalone daemon
//   - Memory, PostgreSQL, SQLite, MongoDB and Redis stores
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/guard"
//	    "github.com/xraph/guard/limit"
//	    "github.com/xraph/guard/policy"
//	    "github.com/xraph/guard/store/memory"
//	)
//
//	g := guard.New(memory.New(),
//	    guard.WithResolver(policy.Static{
//	        "api_calls": limit.Of(1000),
//	    }),
//	)
//	if err := g.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer g.Stop()
//
//	rec, err := g.RecordUsage(ctx, "user_42", "api_calls", 1)
//	eval := rec.Evaluate()
//	fmt.Println(eval.Percentage, eval.Severity)
//
// # Limits
//
// A limit is either absent or a non-negative number. Absent and zero both
// mean unlimited: nothing is ever exceeded, remaining is -1 and the
// percentage is 0. The configured value is stored as given so an explicit 0
// round-trips as 0.
//
// Recording usage never refuses. Usage past the limit is kept as overage and
// the evaluation clamps its percentage at 100. Use Check before recording to
// block an action:
//
//	res, err := g.Check(ctx, "user_42", "api_calls", 5)
//	if err == nil && !res.Allowed {
//	    return errQuota
//	}
//
// # Severity
//
//	percentage >= 100  limit_reached  red
//	percentage >= 90   critical       red
//	percentage >= 70   warning        yellow
//	otherwise          normal         green
//
// # Errors
//
// Failures carry a Kind. Validation errors mean the input was rejected and
// nothing changed. Unavailable errors mean the store or the limit resolver
// failed and the call may be retried.
package guard
