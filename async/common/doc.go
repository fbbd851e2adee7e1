// Package common provides the types shared by every package of the async
// layer: configuration, errors, logging and metrics.
//
// Key Components:
//
//   - DispatcherConfig, ServerConfig, ClientConfig and ReadWriteConfig: plain
//     configuration structs with Default constructors and String renderers
//     for startup logs.
//
//   - Errors: sentinel errors for every failure the async layer reports
//     (wrapped with context, test them with errors.Is) and ChannelError, the
//     side channel error a call channel attaches to a response when executing
//     a native operation failed.
//
//   - TraceCall: renders a native call for logs and errors, byte buffers are
//     shown by size only.
//
//   - Logger: a dragonboat logger.ILogger with a fixed column layout. All
//     packages obtain their logger with logger.GetLogger, InitLoggers installs
//     the factory and sets the level of all of them.
//
//   - Metrics: a VictoriaMetrics set with call, timeout, error and connection
//     counters, written in the Prometheus text format by WriteMetrics.
package common
