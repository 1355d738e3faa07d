// Package metrics exposes Prometheus instrumentation for the HTTP layer and
// the attempt lifecycle.
package metrics

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"school-quiz/pkg/events"
)

var (
	attemptEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_attempt_events_total",
			Help: "Attempt lifecycle events by type",
		},
		[]string{"type"},
	)

	duplicateSubmits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_duplicate_submits_total",
			Help: "Submits that hit an already completed attempt",
		},
	)

	attemptScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quiz_attempt_score",
			Help:    "Scores of completed attempts",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	attemptElapsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quiz_attempt_elapsed_seconds",
			Help:    "Time from start to completion of an attempt",
			Buckets: prometheus.ExponentialBuckets(30, 2, 9),
		},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quiz_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Recorder turns attempt events into metric updates.
type Recorder struct{}

func (Recorder) Notify(_ context.Context, ev events.AttemptEvent) {
	if ev.Duplicate {
		duplicateSubmits.Inc()
		return
	}
	attemptEvents.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == events.AttemptSubmitted && ev.Score != nil {
		attemptScores.Observe(float64(*ev.Score))
		attemptElapsed.Observe(float64(ev.ElapsedSeconds))
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware times requests, labelled by the matched mux route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	})
}
