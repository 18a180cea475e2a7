package middleware

import (
	"net/http"
	"sync/atomic"
)

// RequestCounters aggregates the totals surfaced by the /metrics
// endpoint. The router owns one instance and shares it with this
// middleware.
type RequestCounters struct {
	Requests atomic.Int64
	Errors   atomic.Int64
}

// CountRequests tallies every request, and every 4xx/5xx response as an
// error, into the shared counters.
func CountRequests(counters *RequestCounters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			counters.Requests.Add(1)

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			if rw.statusCode >= http.StatusBadRequest {
				counters.Errors.Add(1)
			}
		})
	}
}
