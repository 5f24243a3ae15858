// ABOUTME: HTTP API routing for project and artifact reports, snapshots and metrics.
// ABOUTME: Wraps every route with security headers and a read-only method check.

package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jfeddern/VulnLens/internal/cache"
	"github.com/jfeddern/VulnLens/internal/engine"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
)

// Aggregator is the part of engine.Aggregator the API serves from.
type Aggregator interface {
	Config() engine.Config
	ListProjects(ctx context.Context) ([]types.Project, error)
	GetVulnerabilityReports(ctx context.Context, opts engine.ReportOptions) ([]types.ArtifactInfo, error)
	GetArtifactByDigestOrTag(ctx context.Context, project, repo, tag, digest string) (*types.ArtifactInfo, error)
	GetProjectOwner(ctx context.Context, projectNameOrID string) (*types.User, error)
}

type Server struct {
	aggregator Aggregator
	snapshots  VulnerabilityDataProvider
	cache      cache.Cache
	metrics    http.Handler
	logger     *logrus.Logger
}

// New creates the API. store and metricsHandler may be nil.
func New(aggregator Aggregator, snapshots VulnerabilityDataProvider, store cache.Cache, metricsHandler http.Handler, logger *logrus.Logger) *Server {
	return &Server{
		aggregator: aggregator,
		snapshots:  snapshots,
		cache:      store,
		metrics:    metricsHandler,
		logger:     logger,
	}
}

// Router returns the routed handler for every endpoint.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.securityMiddleware)

	router.HandleFunc("/health", s.healthHandler)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics)
	}
	router.HandleFunc("/vulnerabilities", CreateVulnerabilitiesHandler(s.snapshots, s.logger))
	router.HandleFunc("/projects", s.projectsHandler)
	router.HandleFunc("/projects/{project}", s.projectReportHandler)
	router.HandleFunc("/projects/{project}/{repo}", s.artifactByTagHandler)
	router.HandleFunc("/projects/{project}/{repo}/{digest}", s.artifactByDigestHandler)

	return router
}

func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'none'; object-src 'none'; frame-ancestors 'none'")

		// Only allow specific HTTP methods
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  r.RemoteAddr,
			"user_agent": r.UserAgent(),
		}).Debug("HTTP request received")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.logger.WithField("endpoint", "/health"), map[string]string{"status": "ok"})
}

// writeJSON encodes v, indented when the request asks for ?pretty.
func writeJSON(w http.ResponseWriter, r *http.Request, logger *logrus.Entry, v any) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	if r.URL.Query().Get("pretty") != "" {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(v); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
