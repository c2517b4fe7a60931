// Package mcp manages connections to Model Context Protocol servers.
//
// Invariants:
// - A connection is either fully Ready and visible, or not visible at all.
// - One server's open failure never prevents siblings from becoming Ready.
// - A connection handles one in-flight call at a time; callers queue.
// - Every connection that left Unconnected receives exactly one Close.
//
// Usage:
//
//	specs, _ := mcp.LoadSpecs("mcp_config.json")
//	mgr := mcp.NewManager(specs, logger)
//	mgr.OpenAll(ctx)
//	defer mgr.CloseAll()
//	out, isErr, err := mgr.CallTool(ctx, "github", "search_issues", args)
package mcp
