package goAuthTree

import (
	"io"

	"github.com/MrEthical07/goAuthTree/internal/audit"
	"github.com/MrEthical07/goAuthTree/internal/logging"
)

// AuditEvent is one journey audit record. Username is set once the journey has
// identified a user.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc = audit.SinkFunc

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events on a channel; events that do not fit are dropped.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// LogSink writes events through a structured logger.
type LogSink = audit.LogSink

// MultiSink fans events out to several sinks.
type MultiSink = audit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func NewLogSink(log logging.Logger) *LogSink {
	return audit.NewLogSink(log)
}
