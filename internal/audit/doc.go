// Package audit delivers journey audit events to sinks off the request path.
//
// The engine emits one event when a journey starts, suspends, resumes, ends, or when a
// node fails. Events carry stable error codes and the details nodes attached to their
// actions; they never carry credentials.
//
// Sinks: [ChannelSink] for tests and in-process consumers, [JSONWriterSink] for line
// oriented files, [LogSink] for the structured logger and [MultiSink] to fan out.
package audit
