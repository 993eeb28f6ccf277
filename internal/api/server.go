package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/edgevision/framenode/internal/events"
	"github.com/edgevision/framenode/internal/logging"
	"github.com/edgevision/framenode/internal/pipeline"
	"github.com/edgevision/framenode/internal/provider"
	"github.com/edgevision/framenode/internal/version"
)

// Options configures the API server.
type Options struct {
	Provider          *provider.Provider
	Runner            *pipeline.Runner
	EventBus          *events.Bus
	PrometheusHandler http.Handler
}

// Server exposes provider state over HTTP using Huma v2.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	started    time.Time
	logger     *slog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("FrameNode API", "1.0.0")
	config.Info.Description = "Frame capture and delivery API for V4L2 devices"
	// Empty servers list makes OpenAPI use relative paths
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		started: time.Now(),
		logger:  logging.GetLogger("api"),
	}

	api.UseMiddleware(HTTPLoggingMiddleware)

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	server.registerSSERoutes()

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup.
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// Start starts the HTTP server on the specified address.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting FrameNode API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down without waiting for open connections.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// HealthData is the health check response body.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Health status"`
	Message string `json:"message" example:"API is healthy" doc:"Health detail"`
}

// HealthResponse wraps HealthData.
type HealthResponse struct {
	Body HealthData
}

// VersionResponse wraps version.Info.
type VersionResponse struct {
	Body version.Info
}

// StatusData is the provider status response body.
type StatusData struct {
	Version       string         `json:"version" doc:"Application version"`
	UptimeSeconds int64          `json:"uptime_seconds" doc:"Seconds since server start"`
	Provider      provider.Stats `json:"provider" doc:"Frame provider state"`
}

// StatusResponse wraps StatusData.
type StatusResponse struct {
	Body StatusData
}

// SnapshotResponse carries the most recent frame as raw bytes.
type SnapshotResponse struct {
	ContentType string `header:"Content-Type"`
	Width       uint32 `header:"X-Frame-Width"`
	Height      uint32 `header:"X-Frame-Height"`
	Sequence    uint64 `header:"X-Frame-Sequence"`
	Body        []byte
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
	}, func(ctx context.Context, input *struct{}) (*HealthResponse, error) {
		return &HealthResponse{
			Body: HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(ctx context.Context, input *struct{}) (*VersionResponse, error) {
		return &VersionResponse{Body: version.Get()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Status",
		Description: "Get frame provider queue depths and counters",
		Tags:        []string{"provider"},
	}, func(ctx context.Context, input *struct{}) (*StatusResponse, error) {
		return &StatusResponse{
			Body: StatusData{
				Version:       version.String(),
				UptimeSeconds: int64(time.Since(s.started).Seconds()),
				Provider:      s.options.Provider.Stats(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/snapshot",
		Summary:     "Snapshot",
		Description: "Get the most recently processed frame as raw pixel data",
		Tags:        []string{"provider"},
		Errors:      []int{404},
	}, func(ctx context.Context, input *struct{}) (*SnapshotResponse, error) {
		frame, ok := s.options.Runner.Snapshot()
		if !ok {
			return nil, huma.Error404NotFound("no frame captured yet")
		}
		return &SnapshotResponse{
			ContentType: "application/octet-stream",
			Width:       frame.Width,
			Height:      frame.Height,
			Sequence:    frame.Sequence,
			Body:        frame.Data,
		}, nil
	})
}
