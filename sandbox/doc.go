// Package sandbox runs untrusted source code and captures its output.
//
// A Registry maps each language to a backend Descriptor. The Loader
// initializes backends on first use, sharing one initialization between
// concurrent callers. Every run gets a fresh single-use Boundary: a goja
// runtime or a node container for JavaScript, and a wazero instance of
// CPython for Python. Code inside a boundary reports output as JSON wire
// messages tagged with the run token; the Router hands each message to the
// Listener of that token and drops the rest.
//
// The Sandbox drives one run at a time through
// Idle → Preparing → Running → Finalizing → Idle. A run that exceeds its
// timeout, or is superseded by a new one, is destroyed and its partial
// output is kept.
//
// Usage:
//
//	sb, err := sandbox.NewFromConfig(logger, cfg, prometheus.DefaultRegisterer)
//	result := sb.Run(ctx, sandbox.Request{
//	    Language: language.JavaScript,
//	    Source:   "console.log('Hello, World!')",
//	})
//	fmt.Print(result.Transcript)
package sandbox
