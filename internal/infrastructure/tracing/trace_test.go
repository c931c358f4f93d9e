package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/shared/id"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStartSpanNesting(t *testing.T) {
	tracer := New("kernel", zap.NewNop())
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "boot")
	assert.True(t, id.IsValid(root.TraceID.String()))
	assert.Empty(t, root.ParentID)
	assert.Equal(t, "kernel", root.Service)

	child, cctx := tracer.StartSpan(ctx, "syscall.noop")
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, SpanIDFrom(cctx))
	assert.Equal(t, root.TraceID, TraceIDFrom(cctx))
}

func TestSubmitAndRecent(t *testing.T) {
	tracer := New("kernel", zap.NewNop())

	for _, name := range []string{"a", "b", "c"} {
		span, _ := tracer.StartSpan(context.Background(), name)
		if name == "b" {
			span.SetError(errors.New("no credits"))
		}
		span.SetError(nil)
		span.Finish()
		tracer.Submit(span)
	}
	tracer.Close()

	recent := tracer.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Name)
	assert.Equal(t, "b", recent[1].Name)
	assert.Equal(t, "no credits", recent[1].Error)
	assert.Equal(t, "a", recent[2].Name)

	assert.Len(t, tracer.Recent(2), 2)
}

func TestRecentWrapsAround(t *testing.T) {
	tracer := New("kernel", zap.NewNop())
	for i := 0; i < keepRecent+10; i++ {
		span, _ := tracer.StartSpan(context.Background(), "op")
		span.SetTag("i", string(rune('a'+i%26)))
		tracer.Submit(span)
	}
	tracer.Close()

	assert.Len(t, tracer.Recent(0), keepRecent)
}

func TestSubmitAfterClose(t *testing.T) {
	tracer := New("kernel", nil)
	tracer.Close()
	tracer.Close()

	span, _ := tracer.StartSpan(context.Background(), "late")
	assert.NotPanics(t, func() { tracer.Submit(span) })
	assert.Empty(t, tracer.Recent(0))
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("api", zap.NewNop())

	var seen id.TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/vpes/:id", func(c *gin.Context) {
		seen = TraceIDFrom(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/vpes/3", nil)
	req.Header.Set(HeaderTraceID, "trace_upstream")
	req.Header.Set(HeaderSpanID, "span_parent")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	tracer.Close()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "trace_upstream", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))
	assert.Equal(t, id.TraceID("trace_upstream"), seen)

	spans := tracer.Recent(1)
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /vpes/:id", spans[0].Name)
	assert.Equal(t, id.SpanID("span_parent"), spans[0].ParentID)
	assert.Equal(t, "204", spans[0].Tags["http.status"])
	assert.Equal(t, "/vpes/3", spans[0].Tags["http.path"])
}
