// Package cmd implements the asrt command-line interface. It runs listeners
// and callers on top of the async socket layer and measures transfers.
//
// The package is organized into several subpackages:
//
//   - serve: Run a listener that reads every connection and logs throughput
//   - send: Connect to a listener and push data with the paced writer
//   - bench: In-process loopback transfers with throughput statistics
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Flags can also be set through ASRT_<flag> environment variables or .env
// files. See asrt -help for a list of all commands.
package cmd
