package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAuthTree/internal/logging"
)

// Event is one journey audit record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	JourneyID string    `json:"journey_id"`
	Tree      string    `json:"tree,omitempty"`
	Node      string    `json:"node,omitempty"`
	NodeType  string    `json:"node_type,omitempty"`
	Realm     string    `json:"realm,omitempty"`
	Username  string    `json:"username,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Success   bool      `json:"success"`
	// Error is a stable classification code, never a raw error message.
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
	// Detail carries the audit details nodes attached to their advance actions.
	Detail map[string]string `json:"detail,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink buffers events on a channel. Events that do not fit are dropped and
// counted.
type ChannelSink struct {
	events  chan Event
	dropped atomic.Uint64
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(_ context.Context, event Event) {
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

func (s *ChannelSink) Dropped() uint64 {
	return s.dropped.Load()
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
}

// LogSink writes each event as one structured log record.
type LogSink struct {
	log logging.Logger
}

func NewLogSink(log logging.Logger) *LogSink {
	if log == nil {
		log = logging.Default
	}
	return &LogSink{log: logging.Named(log, "audit")}
}

func (s *LogSink) Emit(_ context.Context, e Event) {
	kv := []any{
		"type", e.Type,
		"journey", e.JourneyID,
		"success", e.Success,
	}
	for _, f := range [...]struct{ k, v string }{
		{"tree", e.Tree},
		{"node", e.Node},
		{"nodeType", e.NodeType},
		{"realm", e.Realm},
		{"username", e.Username},
		{"ip", e.IP},
		{"error", e.Error},
		{"reason", e.Reason},
	} {
		if f.v != "" {
			kv = append(kv, f.k, f.v)
		}
	}
	if len(e.Detail) > 0 {
		kv = append(kv, "detail", e.Detail)
	}
	if e.Success {
		s.log.Infow("audit", kv...)
		return
	}
	s.log.Warnw("audit", kv...)
}

// MultiSink delivers every event to each sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
