// ABOUTME: Tests for API routing, middleware and the project and artifact report handlers.
// ABOUTME: Serves the mock registry through a real aggregator and an in-memory cache.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jfeddern/VulnLens/internal/cache"
	"github.com/jfeddern/VulnLens/internal/engine"
	"github.com/jfeddern/VulnLens/internal/metrics"
	"github.com/jfeddern/VulnLens/internal/providers/mock"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestServer(t *testing.T) (*Server, *cache.MemoryCache) {
	t.Helper()
	logger := testLogger()

	config := engine.DefaultConfig()
	config.BatchPause = 0
	aggregator := engine.NewAggregator(mock.NewMockRegistry(logger), config, logger, nil)

	store := cache.NewMemoryCache("test", time.Hour, logger)
	t.Cleanup(func() { _ = store.Close() })

	snapshots := &MockVulnerabilityCollector{artifacts: snapshotArtifacts(), lastUpdated: time.Now()}
	return New(aggregator, snapshots, store, metrics.CreateMetricsHandler(snapshots, nil, logger), logger), store
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decodeReport(t *testing.T, rr *httptest.ResponseRecorder) ReportResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var response ReportResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	return response
}

func TestHealthAndMiddleware(t *testing.T) {
	s, _ := newTestServer(t)

	rr := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodHead, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsAndVulnerabilitiesRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	rr := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "vulnlens_artifacts_monitored 2")

	rr = get(t, s, "/vulnerabilities")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "production/test-image:v1")
}

func TestProjectsHandler(t *testing.T) {
	s, _ := newTestServer(t)

	rr := get(t, s, "/projects")
	require.Equal(t, http.StatusOK, rr.Code)

	var response ProjectsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.False(t, response.Empty)
	require.Len(t, response.Projects, 4)
	assert.Equal(t, "production", response.Projects[0].Name)
}

func TestProjectReportHandler(t *testing.T) {
	ctx := context.Background()
	s, store := newTestServer(t)

	response := decodeReport(t, get(t, s, "/projects/production"))
	assert.False(t, response.Empty)
	assert.Equal(t, "production", response.Project)
	require.NotNil(t, response.Owner)
	assert.Equal(t, "admin", response.Owner.Username)
	assert.ElementsMatch(t, []string{
		"production/web-frontend:v1.2.3",
		"production/api-backend:v2.1.0",
		"production/postgres-db:14.9",
		"production/worker-service:latest",
		"production/nginx-proxy:1.21.6",
	}, response.Images)
	assert.Len(t, response.Tables, 4)
	assert.NotZero(t, response.Distributions["all"]["Critical"])

	var cached []types.ArtifactInfo
	found, err := store.Get(ctx, cache.KindArtifactInfo, "production", &cached)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, cached, 5)
}

func TestProjectReportHandlerUsesCache(t *testing.T) {
	ctx := context.Background()
	s, store := newTestServer(t)

	cached := []types.ArtifactInfo{{
		Repository: types.Repository{Name: "staging/cached-app"},
		Artifact:   types.Artifact{Digest: mock.Digest("staging", "cached-app", "v0"), Tags: []types.Tag{{Name: "v0"}}},
	}}
	require.NoError(t, store.Set(ctx, cache.KindArtifactInfo, "staging", cached))

	response := decodeReport(t, get(t, s, "/projects/staging"))
	assert.Equal(t, []string{"staging/cached-app:v0"}, response.Images)

	response = decodeReport(t, get(t, s, "/projects/staging?refresh=true"))
	assert.ElementsMatch(t, []string{"staging/python-api:dev-abc123", "staging/node-frontend:staging"}, response.Images)
}

func TestProjectReportHandlerQueries(t *testing.T) {
	s, store := newTestServer(t)

	response := decodeReport(t, get(t, s, "/projects/production?tag=v1.2.2&tag=14.8&fixable=true&max_rows=2"))
	assert.ElementsMatch(t, []string{"production/web-frontend:v1.2.2", "production/postgres-db:14.8"}, response.Images)
	assert.Len(t, response.Tables, 3)

	var cached []types.ArtifactInfo
	found, err := store.Get(context.Background(), cache.KindArtifactInfo, "production:14.8,v1.2.2", &cached)
	require.NoError(t, err)
	assert.True(t, found)

	empty := decodeReport(t, get(t, s, "/projects/unknown"))
	assert.True(t, empty.Empty)
	assert.Empty(t, empty.Images)
	assert.Nil(t, empty.Owner)

	for _, target := range []string{
		"/projects/production?refresh=maybe",
		"/projects/production?fixable=sure",
		"/projects/production?max_rows=0",
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, s, target).Code, target)
	}
}

func TestArtifactHandlers(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name         string
		target       string
		expectedCode int
		expectedName string
	}{
		{name: "by tag", target: "/projects/production/web-frontend?tag=v1.2.3", expectedCode: http.StatusOK, expectedName: "production/web-frontend:v1.2.3"},
		{name: "tag required", target: "/projects/production/web-frontend", expectedCode: http.StatusBadRequest},
		{name: "unknown tag", target: "/projects/production/web-frontend?tag=v9", expectedCode: http.StatusNotFound},
		{name: "unscanned artifact", target: "/projects/production/redis-cache?tag=7.0.11", expectedCode: http.StatusNotFound},
		{
			name:         "by digest",
			target:       "/projects/staging/python-api/" + mock.Digest("staging", "python-api", "dev-9f8e7d"),
			expectedCode: http.StatusOK,
			expectedName: "staging/python-api:dev-9f8e7d",
		},
		{name: "malformed digest", target: "/projects/staging/python-api/sha256:nothex", expectedCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(t, s, tt.target)
			require.Equal(t, tt.expectedCode, rr.Code, rr.Body.String())
			if tt.expectedCode != http.StatusOK {
				return
			}
			response := decodeReport(t, rr)
			assert.False(t, response.Empty)
			assert.False(t, response.Aggregate)
			assert.Equal(t, []string{tt.expectedName}, response.Images)
		})
	}
}

func TestReportCacheKey(t *testing.T) {
	assert.Equal(t, "library", reportCacheKey("library", nil))
	assert.Equal(t, "library:a,b", reportCacheKey("library", []string{"b", "a"}))
}
