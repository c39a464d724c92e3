package api

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/opensource-finance/harrier/internal/metrics"
)

type contextKey int

const (
	tenantKey contextKey = iota
	requestKey
	traceKey
)

const (
	TenantIDHeader  = "X-Tenant-ID"
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

// Tenant ids end up in Redis keys and NATS subjects, and "*" is reserved for
// the global tenant, so only a conservative alphabet is accepted.
var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var tracer = otel.Tracer("github.com/opensource-finance/harrier/internal/api")

// TenantMiddleware requires a well-formed X-Tenant-ID header.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantIDHeader)
		switch {
		case tenantID == "":
			writeMessage(w, http.StatusBadRequest, "X-Tenant-ID header is required")
			return
		case !tenantPattern.MatchString(tenantID):
			writeMessage(w, http.StatusBadRequest, "X-Tenant-ID must be 1-64 letters, digits, '-' or '_'")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey, tenantID)))
	})
}

// TracingMiddleware opens a server span per request and echoes the request
// and trace ids back as headers. The span is renamed to the matched chi
// route once routing has happened.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("harrier.request_id", requestID),
			),
		)
		defer span.End()

		traceID := requestID
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			traceID = sc.TraceID().String()
		}
		ctx = context.WithValue(ctx, requestKey, requestID)
		ctx = context.WithValue(ctx, traceKey, traceID)

		w.Header().Set(RequestIDHeader, requestID)
		w.Header().Set(TraceIDHeader, traceID)

		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r.WithContext(ctx))

		if route := routePattern(r); route != "" {
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}
		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

// LoggingMiddleware writes one structured line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.written,
			"duration_ms", time.Since(start).Milliseconds(),
			"tenant_id", r.Header.Get(TenantIDHeader),
			"request_id", GetRequestID(r.Context()),
			"trace_id", GetTraceID(r.Context()),
		)
	})
}

// MetricsMiddleware records request counts and latency by route pattern.
func MetricsMiddleware(rec *metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := newStatusRecorder(w)
			next.ServeHTTP(sr, r)
			rec.ObserveRequest(r.Method, routePattern(r), sr.status, time.Since(start))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// CORSMiddleware reflects the caller's origin and answers preflights.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+TenantIDHeader+", "+RequestIDHeader+", "+TraceIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader+", "+TraceIDHeader+", Retry-After")

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a handler panic into a 500.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("panic recovered", "panic", v, "path", r.URL.Path, "request_id", GetRequestID(r.Context()))
				writeMessage(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// BodyLimitMiddleware caps request bodies. Media arrives base64 encoded in
// JSON, so the limit applies to the encoded size.
func BodyLimitMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tenantLimiter keeps one token bucket per tenant and forgets buckets that
// have been idle for idleTTL.
type tenantLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

func newTenantLimiter(rps float64, burst int) *tenantLimiter {
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	return &tenantLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		buckets: make(map[string]*bucket),
	}
}

// reserve takes a token for tenantID, or reports how long the caller
// should wait before retrying.
func (tl *tenantLimiter) reserve(tenantID string, now time.Time) (ok bool, retryAfter time.Duration) {
	tl.mu.Lock()
	b, found := tl.buckets[tenantID]
	if !found {
		b = &bucket{Limiter: rate.NewLimiter(tl.limit, tl.burst)}
		tl.buckets[tenantID] = b
	}
	b.seen = now
	if now.Sub(tl.lastSweep) > tl.idleTTL {
		for id, other := range tl.buckets {
			if now.Sub(other.seen) > tl.idleTTL {
				delete(tl.buckets, id)
			}
		}
		tl.lastSweep = now
	}
	tl.mu.Unlock()

	r := b.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// RateLimitMiddleware limits requests per tenant and must run after
// TenantMiddleware. A non-positive rate disables limiting.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	tl := newTenantLimiter(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := tl.reserve(GetTenantID(r.Context()), time.Now())
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the status code and body size for the logging,
// metrics and tracing middleware.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	if sr, ok := w.(*statusRecorder); ok {
		return sr
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.status = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(p []byte) (int, error) {
	sr.wroteHeader = true
	n, err := sr.ResponseWriter.Write(p)
	sr.written += int64(n)
	return n, err
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func contextString(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// GetTenantID returns the tenant set by TenantMiddleware.
func GetTenantID(ctx context.Context) string { return contextString(ctx, tenantKey) }

func GetTraceID(ctx context.Context) string { return contextString(ctx, traceKey) }

func GetRequestID(ctx context.Context) string { return contextString(ctx, requestKey) }
