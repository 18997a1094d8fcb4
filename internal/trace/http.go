package trace

import "net/http"

// Middleware extracts or creates trace context for HTTP requests and echoes
// the trace id back on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := Extract(r.Header)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// Extract builds a server-side span context from request headers. The
// caller's span becomes the parent.
func Extract(h http.Header) Context {
	tc := Context{
		TraceID:      h.Get(TraceIDKey),
		ParentSpanID: h.Get(SpanIDKey),
		SpanID:       generateSpanID(),
	}
	if tc.TraceID == "" {
		tc.TraceID = generateTraceID()
		tc.ParentSpanID = ""
	}
	return tc
}

// Inject writes tc into outgoing headers.
func Inject(h http.Header, tc Context) {
	h.Set(TraceIDKey, tc.TraceID)
	h.Set(SpanIDKey, tc.SpanID)
	if tc.ParentSpanID != "" {
		h.Set(ParentSpanIDKey, tc.ParentSpanID)
	}
}
