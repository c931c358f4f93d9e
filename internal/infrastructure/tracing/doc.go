/*
Package tracing records syscalls and introspection requests as spans.

Each span carries a ULID trace id and span id. HTTP requests continue a
trace passed in the X-Trace-ID and X-Span-ID headers and echo both back.
Finished spans are submitted to a buffered collector that logs them at
debug level and keeps the most recent ones for the /traces endpoint.

	tracer := tracing.New("kernel", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "syscall.create_rgate")
	span.SetTag("vpe", "root")
	span.Finish()
	tracer.Submit(span)

Submit never blocks: when the buffer is full the span is dropped with a
warning.
*/
package tracing
