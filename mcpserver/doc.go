// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the playground over MCP using the
// mark3labs/mcp-go library. The run_code tool runs source through the
// sandbox and returns its transcript; save_code and load_code read and
// write the per-problem source store, falling back to the problem template;
// list_problems and sandbox_status report the catalog and the sandbox state.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, sb, store, catalog)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
