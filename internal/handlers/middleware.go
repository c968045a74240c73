package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mssola/useragent"
	"github.com/sirupsen/logrus"

	"bitespeed/internal/metrics"
	"bitespeed/internal/ratelimit"
	bserr "bitespeed/pkg/errors"
)

const RequestIDHeader = "X-Request-ID"

type contextKeyRequestID struct{}
type contextKeyClientIP struct{}
type contextKeyDevice struct{}

// RequestIDFrom returns the request id stored by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID{}).(string); ok {
		return id
	}
	return ""
}

// ClientIPFrom returns the client address stored by ClientMetadata, or "".
func ClientIPFrom(ctx context.Context) string {
	if ip, ok := ctx.Value(contextKeyClientIP{}).(string); ok {
		return ip
	}
	return ""
}

// DeviceFrom returns the user agent summary stored by ClientMetadata, or "".
func DeviceFrom(ctx context.Context) string {
	if d, ok := ctx.Value(contextKeyDevice{}).(string); ok {
		return d
	}
	return ""
}

// RequestID reuses an incoming X-Request-ID or mints one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientMetadata records the caller's IP and device in the request context.
// Forwarding headers are only read when trustProxy is set.
func ClientMetadata(trustProxy bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), contextKeyClientIP{}, ClientIPFromRequest(r, trustProxy))
			ctx = context.WithValue(ctx, contextKeyDevice{}, DescribeDevice(r.UserAgent()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DescribeDevice condenses a User-Agent header to "browser version (os)".
func DescribeDevice(header string) string {
	if header == "" {
		return "unknown"
	}
	ua := useragent.New(header)
	name, version := ua.Browser()
	if ua.Bot() {
		return "bot " + name
	}
	desc := strings.TrimSpace(name + " " + version)
	if os := ua.OS(); os != "" {
		desc += " (" + os + ")"
	}
	return desc
}

// ClientIPFromRequest extracts the client IP. X-Forwarded-For and X-Real-IP
// are client-controlled, so they are honoured only behind a trusted proxy.
func ClientIPFromRequest(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteIP(r.RemoteAddr)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return remoteIP(r.RemoteAddr)
}

func remoteIP(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return strings.Trim(addr[:idx], "[]")
	}
	return addr
}

// SecurityHeaders sets the conservative response headers every route shares.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// Recoverer turns handler panics into 500 responses.
func Recoverer(errs *ErrorWriter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					errs.Write(w, r, bserr.Errorf(bserr.CodeServerInternalFailure, "panic: %v", rec))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLog logs one line per request and records its latency under the
// matched route template of router.
func AccessLog(logger logrus.FieldLogger, m *metrics.Metrics, router *mux.Router) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			if m != nil {
				m.RequestDuration.WithLabelValues(r.Method, routeLabel(router, r), strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
			}

			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"durationMs": elapsed.Milliseconds(),
				"clientIp":   ClientIPFrom(r.Context()),
				"device":     DeviceFrom(r.Context()),
				"requestId":  RequestIDFrom(r.Context()),
			}).Info("http request")
		})
	}
}

// routeLabel keeps metric cardinality bounded: unknown paths share a label.
func routeLabel(router *mux.Router, r *http.Request) string {
	var match mux.RouteMatch
	if router != nil && router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RateLimit rejects clients over their per-IP budget. Limiter failures let
// the request through. Paths in exempt are never counted.
func RateLimit(limiter ratelimit.Limiter, errs *ErrorWriter, logger logrus.FieldLogger, exempt ...string) mux.MiddlewareFunc {
	skip := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		skip[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIPFrom(r.Context())
			if ip == "" {
				ip = ClientIPFromRequest(r, false)
			}

			result, err := limiter.Allow(r.Context(), ip)
			if err != nil {
				logger.WithError(err).WithField("clientIp", ip).Error("failed to check rate limit")
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(result.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(result.Remaining))
			h.Set("RateLimit-Reset", strconv.FormatInt(resetSeconds(result.ResetAt), 10))

			if !result.Allowed {
				h.Set("Retry-After", strconv.FormatInt(resetSeconds(result.ResetAt), 10))
				errs.Write(w, r, bserr.New(bserr.CodeServerRateExceeded, "Too many requests from this IP, please try again later."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func resetSeconds(at time.Time) int64 {
	secs := int64(time.Until(at).Round(time.Second) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
