/*
Package log provides structured logging for nexus using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
scoped child loggers, configurable levels, and helper functions for
common logging patterns. All logs include timestamps and support
filtering by severity for production debugging.

# Architecture

A single package-level zerolog.Logger, initialized once via log.Init,
is the source of every scoped logger in the process:

	Global Logger
	  -> WithComponent("router"|"actor"|"subscription"|...)
	  -> WithAgent(agentID)
	  -> WithEvent(eventID, eventType)
	  -> WithOperation(operation)
	  -> WithCorrelation(correlationID)

Each With* helper returns a child of the global Logger with its scope
field attached (WithEvent attaches two: event_id and event_type). The
helpers do not chain: each starts from the global Logger, and further
fields go on the returned logger through its With() context. Together
they cover the scope fields §6 requires on every structured log line:
agent_id, event_id, event_type, operation, correlation_id.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	agentLog := log.WithAgent(agentID)
	agentLog.Info().Str("operation", "dispatch").Msg("handler invoked")

	log.Logger.Error().Err(err).Str("event_id", env.ID).Msg("publish failed")

# Log Levels

Debug is for development and handler-dispatch tracing; Info is the
default production level (agent lifecycle, publish/handle summaries);
Warn marks recoverable conditions (unhealthy subscriptions, reconnect
retries); Error marks operations that failed and were surfaced to a
caller; Fatal exits the process and is reserved for the host binary's
own startup failures, never for handler or routing errors (those
recover into HandlerExceptionEvent, per §4.6).
*/
package log
