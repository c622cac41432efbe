package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// unmatchedRoute labels requests that no route handled
const unmatchedRoute = "unmatched"

// HTTPMiddleware records request count, latency and error class per route
// pattern. It must be mounted on a chi router so the pattern is known once the
// handler returns.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r)

		m.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if class := errorClass(status); class != "" {
			m.APIErrorsTotal.WithLabelValues(class).Inc()
		}
	})
}

// routeLabel keeps label cardinality bounded by prospect and review ids
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

// errorClass mirrors how the management API maps domain errors to statuses
func errorClass(status int) string {
	switch {
	case status < 400:
		return ""
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusTooManyRequests:
		return "quota_exceeded"
	case status == http.StatusBadGateway:
		return "transport_error"
	case status >= 500:
		return "server_error"
	case status == http.StatusBadRequest:
		return "bad_request"
	default:
		return "client_error"
	}
}
