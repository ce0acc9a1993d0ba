// Package main is the entry point for the playground MCP server.
//
// The server runs user-authored solutions to catalog problems in a sandbox:
// JavaScript in an in-process goja runtime or a node container, Python in a
// CPython build on wazero. It stores the source of every problem per
// language and exposes running, saving and loading over MCP via stdio or HTTP.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging, viper for configuration and
// Prometheus for metrics.
package main
