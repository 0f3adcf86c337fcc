package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/errors"
	"github.com/ajitpratap0/integrationd/pkg/logger"
	"github.com/ajitpratap0/integrationd/pkg/metrics"
	"github.com/ajitpratap0/integrationd/pkg/observability"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in and out of the API
const RequestIDHeader = "X-Request-ID"

// NewRouter assembles the operator API: the server routes, the prometheus
// endpoint when enabled, request ids, request metrics, tracing and CORS.
func NewRouter(h *Handler, httpCfg config.HTTPConfig, metricsCfg config.MetricsConfig) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods("GET")
	if metricsCfg.Enabled {
		r.Handle(metricsCfg.Path, promhttp.Handler()).Methods("GET")
	}
	h.RegisterRoutes(r)
	r.Use(requestMiddleware)

	origins := httpCfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	})
	return c.Handler(observability.HTTPMiddleware(r))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeResult(w, logger.WithContext(r.Context()), map[string]string{"status": "ok"})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// requestMiddleware assigns a request id, logs the request and counts it by
// route template and status code
func requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := logger.ContextWith(r.Context(), logger.RequestIDKey, id)
		if server := mux.Vars(r)["server"]; server != "" {
			ctx = logger.ContextWith(ctx, logger.ServerKey, server)
		}

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		logger.WithContext(ctx).Debug("api request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("code", rec.code),
			zap.Duration("duration", time.Since(start)))
	})
}

// NewHTTPServer creates the HTTP server for handler
func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

// Serve runs srv until ctx is done, then shuts it down within timeout
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
