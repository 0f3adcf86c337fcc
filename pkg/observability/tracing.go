package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ConnectorTracer starts spans for the lifecycle operations of one connector.
// It resolves the global tracer on every call, so spans go to whichever
// provider Initialize installed.
type ConnectorTracer struct {
	connectorID   string
	connectorType string
}

// NewConnectorTracer creates a new connector tracer
func NewConnectorTracer(connectorID, connectorType string) *ConnectorTracer {
	return &ConnectorTracer{
		connectorID:   connectorID,
		connectorType: connectorType,
	}
}

// StartSpan starts a connector-specific span
func (ct *ConnectorTracer) StartSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "connector."+operation,
		trace.WithAttributes(
			attribute.String("connector.id", ct.connectorID),
			attribute.String("connector.type", ct.connectorType),
			attribute.String("connector.operation", operation),
		),
	)
}

// Trace runs fn inside a span and records its error on the span
func (ct *ConnectorTracer) Trace(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := ct.StartSpan(ctx, operation)
	defer span.End()

	err := fn(ctx)
	EndWithError(span, err)
	return err
}

// EndWithError sets the span status from err. It does not end the span.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartSpan starts a span that is not tied to a connector
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// HTTPMiddleware extracts trace context from incoming requests and wraps each
// request in a server span named by the method and path.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer(instrumentationName).Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
