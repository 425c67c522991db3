package observability

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/storefront/api/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var propagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

func tracer() trace.Tracer {
	return otel.Tracer("github.com/storefront/api/internal/platform/observability")
}

// TraceMiddleware starts a server span per request, continuing an incoming traceparent, and
// records the trace on the request context so logs and error bodies can reference it. The
// response echoes traceparent and X-Cloud-Trace-Context.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	projectID = strings.TrimSpace(projectID)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer().Start(ctx, r.Method+" "+SanitizeRoute(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(spanAttributes(r)...),
			)
			defer span.End()

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			ctx = requestctx.WithTrace(ctx, info)

			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			if sc.IsValid() {
				w.Header().Set(cloudTraceHeader, cloudTraceValue(info))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// cloudTraceValue renders TRACE_ID/SPAN_ID;o=OPTIONS.
func cloudTraceValue(info requestctx.TraceInfo) string {
	opt := "0"
	if info.Sampled {
		opt = "1"
	}
	return info.TraceID + "/" + info.SpanID + ";o=" + opt
}

// cloudTraceResource is the logging.googleapis.com/trace value linking a log entry to its trace.
func cloudTraceResource(info requestctx.TraceInfo) string {
	if info.ProjectID == "" || info.TraceID == "" {
		return ""
	}
	return "projects/" + info.ProjectID + "/traces/" + info.TraceID
}

func spanAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = append(attrs,
		attribute.String("http.request.method", SanitizeMethod(r.Method)),
		attribute.String("url.scheme", scheme),
		attribute.String("url.path", SanitizeRoute(r.URL.Path)),
	)
	if r.Host != "" {
		attrs = append(attrs, attribute.String("server.address", bounded(r.Host, defaultLimit)))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", bounded(ua, defaultLimit)))
	}
	return attrs
}
