// Package tools registers in-process callables and exposes them as
// schema-described tools.
//
// Invariants:
// - Tool names are unique; re-registration fails with ErrDuplicateTool.
// - Arguments are schema-validated before the handler runs.
// - A handler failure or panic never escapes Invoke as anything but an error.
//
// Usage:
//
//	reg := tools.NewRegistry(logger)
//	_ = reg.RegisterFunc("echo", "Echo input back.", func(ctx context.Context, args struct {
//		Text string `json:"text" desc:"text to echo"`
//	}) (string, error) {
//		return args.Text, nil
//	})
package tools
