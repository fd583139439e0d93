// Package adminserver provides the HTTP server for administering GoPanelGuard.
package adminserver

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoPanelGuard/pkg/api"
	"github.com/supporttools/GoPanelGuard/pkg/config"
	"github.com/supporttools/GoPanelGuard/pkg/history"
	"github.com/supporttools/GoPanelGuard/pkg/jobs"
	"github.com/supporttools/GoPanelGuard/pkg/pages"
	"github.com/supporttools/GoPanelGuard/pkg/scheduler"
	"github.com/supporttools/GoPanelGuard/pkg/version"
)

// Options wires the admin server to the rest of the application
type Options struct {
	Store        history.Store
	Pool         *jobs.Pool
	Scheduler    *scheduler.Scheduler
	Lookup       scheduler.ConnectionLookup
	Clients      jobs.ClientFactory
	Panels       func() []config.PanelConfig
	ChannelName  string
	ReloadPanels func() error
	ReloadRules  func() error
}

// Server represents the admin HTTP server
type Server struct {
	httpServer *http.Server
	opts       Options
	logger     *logrus.Logger
}

// NewServer creates a new admin server instance
func NewServer(opts Options) *Server {
	logger := logrus.New()
	if config.CFG.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	return &Server{
		opts:   opts,
		logger: logger,
	}
}

// Start starts the admin HTTP server
func (s *Server) Start() *http.Server {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", config.CFG.Metrics.Port),
		Handler:      s.logRequestMiddleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		log.Printf("Admin server running on port %s", config.CFG.Metrics.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	return s.httpServer
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Status pages
	mux.HandleFunc("/", pages.DashboardPage(s.opts.Scheduler, s.opts.ChannelName))
	mux.HandleFunc("/jobs", pages.JobsPage)
	mux.HandleFunc("/panels", pages.PanelsPage(s.opts.Panels))
	mux.HandleFunc("/schedules", pages.SchedulesPage(s.opts.Scheduler))

	// Standard endpoints
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthCheckHandler)
	mux.HandleFunc("/version", s.versionHandler)

	// Management API
	jobHandler := api.NewJobHandler(s.opts.Store, s.opts.Pool, s.opts.Scheduler, s.opts.Lookup, s.opts.Clients)
	jobHandler.RegisterRoutes(mux)

	panelHandler := api.NewPanelHandler(s.opts.Clients, s.opts.ReloadPanels)
	panelHandler.RegisterRoutes(mux)

	scheduleHandler := api.NewScheduleHandler(s.opts.ReloadRules)
	scheduleHandler.RegisterRoutes(mux)
}

// healthCheckHandler returns a simple health status
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("Error encoding health check response: %v", err)
	}
}

// versionHandler returns build information
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]string{
		"version":   version.Version,
		"gitCommit": version.GitCommit,
		"buildTime": version.BuildTime,
	})
	if err != nil {
		log.Printf("Error encoding version response: %v", err)
	}
}

// logRequestMiddleware logs HTTP requests with timing
func (s *Server) logRequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}
