// Package httpapi exposes the mutation gateway and progress reads over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/cache"
	"github.com/felixgeelhaar/milepost/internal/infrastructure/metrics"
	"github.com/felixgeelhaar/milepost/internal/infrastructure/realtime"
	"github.com/felixgeelhaar/milepost/pkg/application"
)

// ProgressCache is the read side of the Redis progress cache.
type ProgressCache interface {
	Booking(ctx context.Context, bookingID string) (cache.Entry, bool, error)
}

// Config for the HTTP API handler. Only Service is required.
type Config struct {
	Service  *application.MutationService
	BasePath string
	Version  string
	Cache    ProgressCache
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Hub      *realtime.Hub
	Logger   *zap.Logger
}

// New returns an HTTP handler exposing the milepost API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema validation failures are client errors like any other bad input.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			messages := make([]string, len(errs))
			for i, e := range errs {
				messages[i] = e.Error()
			}
			details = map[string]any{"errors": messages}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Logger, cfg.Metrics))

	hcfg := huma.DefaultConfig("Milepost API", cfg.Version)
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatuses(group)
	registerBookings(group, cfg.Service, cfg.Cache)
	registerMilestones(group, cfg.Service)
	registerTasks(group, cfg.Service)

	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Hub != nil {
		router.Handle(basePath+"/ws", realtime.NewWebSocketHandler(cfg.Hub, cfg.Logger))
		router.Handle(basePath+"/events", realtime.NewSSEHandler(cfg.Hub))
	}

	return router, nil
}

// requestLogger logs each request and records its latency under the matched route.
func requestLogger(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			if m != nil {
				m.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), elapsed)
			}
			logger.Debug("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
			)
		})
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}
