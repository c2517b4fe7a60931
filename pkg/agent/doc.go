// Package agent drives bounded model/tool loops against a single provider.
//
// Invariants:
// - Every successful run ends in outcome complete or truncated; failures return an error.
// - Tool failures become error results in the conversation, never run failures.
// - Tool calls of one turn run concurrently but results rejoin in request order.
// - Streaming runs emit exactly one terminal event before the channel closes.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{Provider: p, Tools: t})
//	result, _ := runner.Run(ctx, agent.RunParams{
//		Messages: []agent.Message{{Role: "user", Content: "hello"}},
//	})
//	_ = result
package agent
