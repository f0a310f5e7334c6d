// Package agent drives the Thought -> Action -> Observation loop.
//
// Invariants:
// - One query is strictly sequential; queries of one session run in its commandqueue lane.
// - A trace never holds more steps than the iteration budget.
// - Recoverable failures become failure observations; critical failures abort.
// - Callers always get a Result. Abort and truncation are status flags.
// - Concluded and aborted queries are both appended to the session.
//
// Usage:
//
//	a, _ := agent.New(agent.Config{Registry: reg, Reasoner: exec, Store: store})
//	res, _ := a.Query(ctx, "Calculate the escape velocity of Mars", sessionID)
//	fmt.Println(res.Answer)
package agent
