package telemetry

import (
	"context"
	"net/http"
	"regexp"
)

// Trace headers recognized on inbound requests. The W3C pair covers OTel
// peers; the Amazon header covers callers behind an ALB.
const (
	headerTraceparent = "traceparent"
	headerTracestate  = "tracestate"
	headerXRay        = "X-Amzn-Trace-Id"
)

// traceparentRe matches version-trace_id-parent_id-trace_flags, all lower
// hex. Anything else is discarded rather than forwarded.
var traceparentRe = regexp.MustCompile(`^[0-9a-f]{2}-[0-9a-f]{32}-[0-9a-f]{16}-[0-9a-f]{2}$`)

type traceHeadersKey struct{}

// TraceHeaders carries the distributed-trace headers of the request that
// submitted a job, keyed by canonical header name.
type TraceHeaders map[string]string

// Empty reports whether no trace headers were captured.
func (h TraceHeaders) Empty() bool { return len(h) == 0 }

// CaptureTraceHeaders collects recognized trace headers from an inbound
// request. A malformed traceparent is dropped; tracestate without a valid
// traceparent is meaningless and dropped with it.
func CaptureTraceHeaders(r *http.Request) TraceHeaders {
	h := TraceHeaders{}
	if tp := r.Header.Get(headerTraceparent); traceparentRe.MatchString(tp) {
		h[headerTraceparent] = tp
		if ts := r.Header.Get(headerTracestate); ts != "" {
			h[headerTracestate] = ts
		}
	}
	if xray := r.Header.Get(headerXRay); xray != "" {
		h[headerXRay] = xray
	}
	return h
}

// WithTraceHeaders stores captured headers in ctx.
func WithTraceHeaders(ctx context.Context, h TraceHeaders) context.Context {
	return context.WithValue(ctx, traceHeadersKey{}, h)
}

// TraceHeadersFrom returns the headers stored in ctx, or an empty set.
func TraceHeadersFrom(ctx context.Context) TraceHeaders {
	h, _ := ctx.Value(traceHeadersKey{}).(TraceHeaders)
	return h
}

// TraceMiddleware captures trace headers from each inbound request into its
// context so downstream calls made on the job's behalf can rejoin the
// caller's trace.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := CaptureTraceHeaders(r); !h.Empty() {
			r = r.WithContext(WithTraceHeaders(r.Context(), h))
		}
		next.ServeHTTP(w, r)
	})
}

// InjectTraceHeaders copies captured trace headers from ctx onto an outbound
// request. No-op when ctx carries none.
func InjectTraceHeaders(ctx context.Context, req *http.Request) {
	for name, value := range TraceHeadersFrom(ctx) {
		req.Header.Set(name, value)
	}
}
