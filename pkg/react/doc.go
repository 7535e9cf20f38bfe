// Package react drives the reason-act-observe loop that turns one
// natural-language request into capability executions.
//
// Invariants:
// - One run owns its scratchpad exclusively; concurrent runs share only
//   the registry and aggregate stats.
// - Repair never exceeds the configured attempt limit for a single step.
// - Budget exhaustion terminates with the partial trace, never hangs.
// - A plan with zero steps that requests input ends the run in one
//   iteration without touching the executor.
//
// Usage:
//
//	ctrl, _ := react.New(react.Config{
//		Engine:   engine,
//		Executor: exec,
//		Registry: registry,
//	})
//	out := ctrl.Run(ctx, react.Request{Text: "remind me to buy milk", SessionID: "cli"})
//	fmt.Println(out.Status, out.Message)
package react
