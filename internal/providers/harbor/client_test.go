// ABOUTME: Tests for the Harbor registry client against an httptest server.
// ABOUTME: Covers pagination, escaping, tag queries, not-found mapping and timeout classification.

package harbor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, pageSize int) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		URL:      server.URL,
		Username: "admin",
		Password: "secret",
		PageSize: pageSize,
	}, logger)
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNewClientValidation(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	_, err := NewClient(Config{}, logger)
	assert.Error(t, err)

	_, err = NewClient(Config{URL: "ftp://harbor.example.com"}, logger)
	assert.Error(t, err)

	client, err := NewClient(Config{URL: "https://harbor.example.com/api/v2.0/"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "/api/v2.0", client.baseURL.Path)
	assert.Equal(t, "harbor", client.Name())
}

func TestListProjectsPaginates(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2.0/projects", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "2", r.URL.Query().Get("page_size"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 1:
			writeJSON(t, w, []map[string]any{{"project_id": 1, "name": "library"}, {"project_id": 2, "name": "team"}})
		case 2:
			writeJSON(t, w, []map[string]any{{"project_id": 3, "name": "ops", "owner_id": 7}})
		default:
			writeJSON(t, w, []map[string]any{})
		}
	})

	client := newTestClient(t, mux, 2)
	projects, err := client.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 3)
	assert.Equal(t, "ops", projects[2].Name)
	assert.Equal(t, int64(7), projects[2].OwnerID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestListRepositories(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2.0/projects/library/repositories", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{{"id": 10, "project_id": 1, "name": "library/nginx", "artifact_count": 3}})
	})
	mux.HandleFunc("/api/v2.0/repositories", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{{"id": 10, "name": "library/nginx"}, {"id": 11, "name": "team/api"}})
	})

	client := newTestClient(t, mux, 100)

	repos, err := client.ListRepositories(context.Background(), "library")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "library/nginx", repos[0].Name)
	assert.Equal(t, 3, repos[0].ArtifactCount)

	all, err := client.ListRepositories(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListArtifactsEscapesAndFilters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2.0/projects/team/repositories/app%252Fapi/artifacts", r.URL.EscapedPath())
		assert.Equal(t, "true", r.URL.Query().Get("with_scan_overview"))
		assert.Equal(t, "tags=(v1 v2)", r.URL.Query().Get("q"))

		writeJSON(t, w, []map[string]any{
			{
				"id":        1,
				"digest":    "sha256:aaaa",
				"push_time": "2024-03-01T10:00:00Z",
				"tags":      []map[string]any{{"name": "v1"}},
				"scan_overview": map[string]any{
					types.MimeTypeVulnerabilityReport: map[string]any{
						"scan_status": "Success",
						"severity":    "High",
						"summary": map[string]any{
							"total":   3,
							"fixable": 1,
							"summary": map[string]int{"High": 1, "Low": 2},
						},
					},
				},
			},
			{"id": 2, "digest": "sha256:bbbb"},
		})
	})

	client := newTestClient(t, mux, 100)
	artifacts, err := client.ListArtifacts(context.Background(), "team", "app/api", []string{"v1", " v2 "}, true)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	first := artifacts[0]
	assert.True(t, first.HasScanOverview())
	assert.Equal(t, []string{"v1"}, first.TagNames())
	require.NotNil(t, first.PushTime)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), first.PushTime.UTC())

	summary := first.ScanOverview[types.MimeTypeVulnerabilityReport]
	assert.Equal(t, types.SeverityHigh, summary.Severity)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Summary[types.SeverityLow])

	assert.False(t, artifacts[1].HasScanOverview())
}

func TestTagQuery(t *testing.T) {
	assert.Equal(t, "", tagQuery(nil))
	assert.Equal(t, "", tagQuery([]string{" "}))
	assert.Equal(t, "tags=latest", tagQuery([]string{"latest"}))
	assert.Equal(t, "tags=(a b)", tagQuery([]string{"a", "b"}))
}

func TestGetVulnerabilityReport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2.0/projects/library/repositories/nginx/artifacts/sha256:aaaa/additions/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			types.MimeTypeVulnerabilityReport: map[string]any{
				"generated_at": "2024-03-01T10:00:00Z",
				"scanner":      map[string]any{"name": "Trivy", "vendor": "Aqua Security", "version": "0.50.0"},
				"severity":     "Critical",
				"vulnerabilities": []map[string]any{
					{
						"id":          "CVE-2024-0001",
						"package":     "openssl",
						"version":     "3.0.1",
						"fix_version": "3.0.2",
						"severity":    "Critical",
						"vendor_attributes": map[string]any{
							"CVSS": map[string]any{"nvd": map[string]any{"V3Score": 9.8}},
						},
					},
				},
			},
		})
	})
	mux.HandleFunc("/api/v2.0/projects/library/repositories/nginx/artifacts/empty/additions/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{})
	})

	client := newTestClient(t, mux, 100)

	report, err := client.GetVulnerabilityReport(context.Background(), "library", "nginx", "sha256:aaaa")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, types.SeverityCritical, report.Severity)
	require.Len(t, report.Vulnerabilities, 1)
	assert.Equal(t, "openssl", report.Vulnerabilities[0].Package)
	assert.Equal(t, 9.8, report.Vulnerabilities[0].CVSSScore(report.Scanner))

	missing, err := client.GetVulnerabilityReport(context.Background(), "library", "nginx", "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := client.GetVulnerabilityReport(context.Background(), "library", "nginx", "empty")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestSingleItemNotFound(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler(), 100)
	ctx := context.Background()

	artifact, err := client.GetArtifact(ctx, "library", "nginx", "v1")
	assert.NoError(t, err)
	assert.Nil(t, artifact)

	repo, err := client.GetRepository(ctx, "library", "nginx")
	assert.NoError(t, err)
	assert.Nil(t, repo)

	project, err := client.GetProject(ctx, "library")
	assert.NoError(t, err)
	assert.Nil(t, project)

	user, err := client.GetUser(ctx, 1)
	assert.NoError(t, err)
	assert.Nil(t, user)

	_, err = client.ListRepositories(ctx, "library")
	assert.Error(t, err, "list endpoints surface 404 as an error")
}

func TestGetProjectAndUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2.0/projects/library", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"project_id": 1, "name": "library", "owner_id": 5})
	})
	mux.HandleFunc("/api/v2.0/users/5", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"user_id": 5, "username": "jdoe", "email": "jdoe@example.com"})
	})

	client := newTestClient(t, mux, 100)
	project, err := client.GetProject(context.Background(), "library")
	require.NoError(t, err)
	require.NotNil(t, project)
	assert.Equal(t, int64(5), project.OwnerID)

	user, err := client.GetUser(context.Background(), project.OwnerID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "jdoe", user.Username)
}

func TestStatusErrorTimeout(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}), 100)

	_, err := client.ListRepositories(context.Background(), "library")
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.True(t, statusErr.Timeout())

	client = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}), 100)
	_, err = client.ListRepositories(context.Background(), "library")
	require.Error(t, err)
	require.True(t, errors.As(err, &statusErr))
	assert.False(t, statusErr.Timeout())
	assert.Contains(t, err.Error(), "boom")
}
