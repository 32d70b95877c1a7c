package main

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	serviceworker "github.com/cryguy/serviceworker"
)

const (
	maxRequestBody = 10 << 20
	requestTimeout = 60 * time.Second
)

// server forwards HTTP requests to a single worker. The scope is
// single-threaded, so dispatches are serialized.
type server struct {
	router *chi.Mux
	log    *logrus.Entry

	mu     sync.Mutex
	worker *serviceworker.Worker

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newServer(w *serviceworker.Worker, reg *prometheus.Registry, log *logrus.Entry) *server {
	s := &server{
		router: chi.NewRouter(),
		log:    log,
		worker: w,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swserve_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swserve_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(s.requests, s.duration)

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.router.Group(func(r chi.Router) {
		r.Use(s.metricsMiddleware)
		r.Use(middleware.Timeout(requestTimeout))
		r.HandleFunc("/*", s.handleFetch)
	})
	return s
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrusFields(r, logrus.Fields{
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		})).Info("request")
	})
}

func (s *server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		s.duration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}
	req := &serviceworker.Request{
		Method:  r.Method,
		URL:     requestURL(r),
		Headers: make(map[string]string, len(r.Header)),
		Body:    body,
		Mode:    requestMode(r),
	}
	for k, v := range r.Header {
		req.Headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}

	s.mu.Lock()
	res, err := s.worker.DispatchFetch(r.Context(), req, nil)
	s.mu.Unlock()
	if err != nil {
		s.log.WithError(err).WithFields(logrusFields(r, nil)).Error("dispatch failed")
		http.Error(w, "service worker failed", http.StatusInternalServerError)
		return
	}

	switch {
	case res.Response != nil:
		writeResponse(w, res.Response)
	case res.Responded:
		s.log.WithFields(logrusFields(r, logrus.Fields{
			"dispatch":   res.ID,
			"rejections": res.Rejections,
			"timed_out":  res.TimedOut,
		})).Warn("respondWith produced no response")
		http.Error(w, serviceworker.ErrNoResponse.Error(), http.StatusBadGateway)
	default:
		http.NotFound(w, r)
	}
}

func writeResponse(w http.ResponseWriter, resp *serviceworker.Response) {
	for k, vals := range resp.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// requestMode guesses a navigation from the Fetch Metadata headers
// browsers send, falling back to the Accept header.
func requestMode(r *http.Request) string {
	if m := r.Header.Get("Sec-Fetch-Mode"); m != "" {
		return m
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return "navigate"
	}
	return "cors"
}

// logrusFields returns the request fields every log line carries.
func logrusFields(r *http.Request, extra logrus.Fields) logrus.Fields {
	f := logrus.Fields{"method": r.Method, "path": r.URL.Path}
	for k, v := range extra {
		f[k] = v
	}
	return f
}
