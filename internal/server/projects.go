// ABOUTME: Handlers for project listings, project reports and single artifact reports.
// ABOUTME: Project reports are read through the cache and hold the latest artifact per repository.

package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jfeddern/VulnLens/internal/cache"
	"github.com/jfeddern/VulnLens/internal/engine"
	"github.com/jfeddern/VulnLens/internal/tables"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
)

type ProjectsResponse struct {
	Empty    bool            `json:"empty"`
	Projects []types.Project `json:"projects"`
}

// ReportResponse is a report view with the images it covers.
type ReportResponse struct {
	Project string      `json:"project,omitempty"`
	Owner   *types.User `json:"owner,omitempty"`
	Images  []string    `json:"images"`
	tables.View
}

type reportQuery struct {
	tags        []string
	refresh     bool
	maxRows     int
	fixableOnly bool
}

func parseReportQuery(r *http.Request) (reportQuery, error) {
	query := r.URL.Query()
	q := reportQuery{
		tags:    nonBlank(query["tag"]),
		maxRows: tables.DefaultMaxRows,
	}

	if value := query.Get("refresh"); value != "" {
		refresh, err := strconv.ParseBool(value)
		if err != nil {
			return q, errors.New("invalid refresh parameter: must be true or false")
		}
		q.refresh = refresh
	}
	if value := query.Get("fixable"); value != "" {
		fixable, err := strconv.ParseBool(value)
		if err != nil {
			return q, errors.New("invalid fixable parameter: must be true or false")
		}
		q.fixableOnly = fixable
	}
	if value := query.Get("max_rows"); value != "" {
		maxRows, err := strconv.Atoi(value)
		if err != nil || maxRows < 1 || maxRows > 1000 {
			return q, errors.New("invalid max_rows parameter: must be an integer between 1 and 1000")
		}
		q.maxRows = maxRows
	}
	return q, nil
}

// nonBlank drops blank values.
func nonBlank(values []string) []string {
	var kept []string
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			kept = append(kept, value)
		}
	}
	return kept
}

// reportCacheKey identifies a project report for a set of tags.
func reportCacheKey(project string, tags []string) string {
	if len(tags) == 0 {
		return project
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return project + ":" + strings.Join(sorted, ",")
}

func (s *Server) projectsHandler(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithField("endpoint", "/projects")

	projects, err := s.aggregator.ListProjects(r.Context())
	if err != nil {
		logger.WithError(err).Error("Failed to list projects")
		http.Error(w, "Failed to list projects", http.StatusInternalServerError)
		return
	}
	if projects == nil {
		projects = []types.Project{}
	}

	writeJSON(w, r, logger, ProjectsResponse{Empty: len(projects) == 0, Projects: projects})
}

func (s *Server) projectReportHandler(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	logger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/projects/{project}",
		"project":  project,
	})

	query, err := parseReportQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := reportCacheKey(project, query.tags)
	var infos []types.ArtifactInfo
	found := false
	if s.cache != nil && !query.refresh {
		found, err = s.cache.Get(r.Context(), cache.KindArtifactInfo, key, &infos)
		if err != nil {
			logger.WithError(err).Warn("Failed to read cached project report")
			found = false
		}
	}

	if !found {
		opts := s.aggregator.Config().ReportOptions([]string{project}, query.tags, true)
		infos, err = s.aggregator.GetVulnerabilityReports(r.Context(), opts)
		if err != nil {
			logger.WithError(err).Error("Failed to collect project report")
			http.Error(w, "Failed to collect project report", http.StatusInternalServerError)
			return
		}
		infos = engine.FilterLatest(infos, nil)

		if s.cache != nil {
			if err := s.cache.Set(r.Context(), cache.KindArtifactInfo, key, infos); err != nil {
				logger.WithError(err).Warn("Failed to cache project report")
			}
		}
	}

	response := newReportResponse(infos, query)
	response.Project = project
	if !response.Empty {
		owner, err := s.aggregator.GetProjectOwner(r.Context(), project)
		if err != nil {
			logger.WithError(err).Warn("Failed to look up project owner")
		}
		response.Owner = owner
	}

	logger.WithFields(logrus.Fields{
		"cached":    found,
		"artifacts": len(infos),
	}).Info("Served project report")
	writeJSON(w, r, logger, response)
}

func (s *Server) artifactByTagHandler(w http.ResponseWriter, r *http.Request) {
	tag := strings.TrimSpace(r.URL.Query().Get("tag"))
	if tag == "" {
		http.Error(w, "Missing tag parameter", http.StatusBadRequest)
		return
	}
	s.artifactReport(w, r, tag, "")
}

func (s *Server) artifactByDigestHandler(w http.ResponseWriter, r *http.Request) {
	s.artifactReport(w, r, "", mux.Vars(r)["digest"])
}

func (s *Server) artifactReport(w http.ResponseWriter, r *http.Request, tag, digest string) {
	vars := mux.Vars(r)
	project, repo := vars["project"], vars["repo"]
	logger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/projects/{project}/{repo}",
		"project":  project,
		"repo":     repo,
		"tag":      tag,
		"digest":   digest,
	})

	query, err := parseReportQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	info, err := s.aggregator.GetArtifactByDigestOrTag(r.Context(), project, repo, tag, digest)
	switch {
	case errors.Is(err, engine.ErrNoReference), errors.Is(err, engine.ErrInvalidDigest):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		logger.WithError(err).Error("Failed to get artifact")
		http.Error(w, "Failed to get artifact", http.StatusInternalServerError)
		return
	case info == nil:
		http.Error(w, "No artifact found in repository "+project+"/"+repo, http.StatusNotFound)
		return
	}

	writeJSON(w, r, logger, newReportResponse([]types.ArtifactInfo{*info}, query))
}

func newReportResponse(infos []types.ArtifactInfo, query reportQuery) ReportResponse {
	response := ReportResponse{Images: make([]string, 0, len(infos))}
	for _, info := range infos {
		response.Images = append(response.Images, info.Name())
	}
	response.View = tables.ViewOf(infos, query.maxRows, query.fixableOnly)
	return response
}
