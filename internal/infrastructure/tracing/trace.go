package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/shared/id"
	"go.uber.org/zap"
)

const (
	bufferSize = 1024
	keepRecent = 256
)

// Span is one traced operation: a syscall or an HTTP request.
type Span struct {
	TraceID    id.TraceID        `json:"trace_id"`
	SpanID     id.SpanID         `json:"span_id"`
	ParentID   id.SpanID         `json:"parent_id,omitempty"`
	Name       string            `json:"name"`
	Service    string            `json:"service"`
	StartTime  time.Time         `json:"start"`
	Duration   time.Duration     `json:"duration_ns"`
	Tags       map[string]string `json:"tags,omitempty"`
	Error      string            `json:"error,omitempty"`
	StatusCode int               `json:"status,omitempty"`
}

// Finish records the span duration.
func (s *Span) Finish() {
	s.Duration = time.Since(s.StartTime)
}

// SetTag adds a tag to the span.
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records err in the span.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.Error = err.Error()
}

// SetStatus sets the HTTP status code.
func (s *Span) SetStatus(code int) {
	s.StatusCode = code
}

// Tracer collects finished spans, logs them and keeps the most recent ones
// for inspection.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	recent []*Span
	next   int
}

// New creates a tracer and starts its collector.
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, bufferSize),
		done:    make(chan struct{}),
		recent:  make([]*Span, 0, keepRecent),
	}
	go t.collect()
	return t
}

// StartSpan creates a span that is a child of the span in ctx, if any.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = id.NewTraceID()
	}

	span := &Span{
		TraceID:   traceID,
		SpanID:    id.NewSpanID(),
		ParentID:  SpanIDFrom(ctx),
		Name:      name,
		Service:   t.service,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}

	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Submit hands a finished span to the collector. Spans are dropped when the
// buffer is full or the tracer is closed.
func (t *Tracer) Submit(span *Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("Span buffer full, dropping span",
			zap.Stringer("trace_id", span.TraceID),
			zap.String("operation", span.Name),
		)
	}
}

// Close stops the collector after it has processed all submitted spans.
func (t *Tracer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.spans)
	t.mu.Unlock()
	<-t.done
}

// Recent returns up to n of the most recently collected spans, newest first.
func (t *Tracer) Recent(n int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > len(t.recent) {
		n = len(t.recent)
	}
	out := make([]Span, 0, n)
	for i := 0; i < n; i++ {
		idx := (t.next - 1 - i + len(t.recent)) % len(t.recent)
		out = append(out, *t.recent[idx])
	}
	return out
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.spans {
		t.process(span)
	}
}

func (t *Tracer) process(span *Span) {
	fields := []zap.Field{
		zap.Stringer("trace_id", span.TraceID),
		zap.Stringer("span_id", span.SpanID),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.Stringer("parent_id", span.ParentID))
	}
	if span.Error != "" {
		fields = append(fields, zap.String("error", span.Error))
	}
	t.logger.Debug("Span completed", fields...)

	t.mu.Lock()
	if len(t.recent) < keepRecent {
		t.recent = append(t.recent, span)
	} else {
		t.recent[t.next] = span
	}
	t.next = (t.next + 1) % keepRecent
	t.mu.Unlock()
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// WithTrace returns a context carrying an incoming trace and parent span.
func WithTrace(ctx context.Context, traceID id.TraceID, parent id.SpanID) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if parent != "" {
		ctx = context.WithValue(ctx, spanIDKey, parent)
	}
	return ctx
}

// TraceIDFrom returns the trace id stored in ctx.
func TraceIDFrom(ctx context.Context) id.TraceID {
	traceID, _ := ctx.Value(traceIDKey).(id.TraceID)
	return traceID
}

// SpanIDFrom returns the span id stored in ctx.
func SpanIDFrom(ctx context.Context) id.SpanID {
	spanID, _ := ctx.Value(spanIDKey).(id.SpanID)
	return spanID
}
