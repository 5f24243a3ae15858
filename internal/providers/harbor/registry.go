// ABOUTME: Harbor implementation of the registry client operations.
// ABOUTME: Maps Harbor's project, repository, artifact and report payloads onto VulnLens types.

package harbor

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
)

type project struct {
	ProjectID    int64     `json:"project_id"`
	Name         string    `json:"name"`
	OwnerID      int64     `json:"owner_id"`
	OwnerName    string    `json:"owner_name"`
	RepoCount    int       `json:"repo_count"`
	CreationTime time.Time `json:"creation_time"`
}

func (p project) toProject() types.Project {
	return types.Project(p)
}

type user struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Realname string `json:"realname"`
	Email    string `json:"email"`
}

type scanOverview struct {
	ReportID        string     `json:"report_id"`
	ScanStatus      string     `json:"scan_status"`
	Severity        string     `json:"severity"`
	CompletePercent int        `json:"complete_percent"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	Summary         *struct {
		Total   int            `json:"total"`
		Fixable int            `json:"fixable"`
		Summary map[string]int `json:"summary"`
	} `json:"summary"`
}

type artifact struct {
	ID           int64                   `json:"id"`
	Digest       string                  `json:"digest"`
	MediaType    string                  `json:"media_type"`
	Size         int64                   `json:"size"`
	PushTime     *time.Time              `json:"push_time"`
	Tags         []types.Tag             `json:"tags"`
	ScanOverview map[string]scanOverview `json:"scan_overview"`
}

func (a artifact) toArtifact() types.Artifact {
	out := types.Artifact{
		ID:        a.ID,
		Digest:    a.Digest,
		MediaType: a.MediaType,
		Size:      a.Size,
		PushTime:  a.PushTime,
		Tags:      a.Tags,
	}
	if len(a.ScanOverview) > 0 {
		out.ScanOverview = make(map[string]types.ScanSummary, len(a.ScanOverview))
		for mime, overview := range a.ScanOverview {
			summary := types.ScanSummary{
				ReportID:    overview.ReportID,
				ScanStatus:  overview.ScanStatus,
				Severity:    types.ParseSeverity(overview.Severity),
				StartTime:   overview.StartTime,
				EndTime:     overview.EndTime,
				CompletePct: overview.CompletePercent,
			}
			if overview.Summary != nil {
				summary.Total = overview.Summary.Total
				summary.Fixable = overview.Summary.Fixable
				summary.Summary = make(map[types.Severity]int, len(overview.Summary.Summary))
				for sev, count := range overview.Summary.Summary {
					summary.Summary[types.ParseSeverity(sev)] += count
				}
			}
			out.ScanOverview[mime] = summary
		}
	}
	return out
}

// ListProjects returns every project visible to the configured user.
func (c *Client) ListProjects(ctx context.Context) ([]types.Project, error) {
	projects, err := getAll[project](ctx, c, "/projects", nil)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	out := make([]types.Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.toProject())
	}
	return out, nil
}

// ListRepositories lists a project's repositories, or every repository when
// project is empty.
func (c *Client) ListRepositories(ctx context.Context, projectName string) ([]types.Repository, error) {
	path := "/repositories"
	if projectName != "" {
		path = "/projects/" + url.PathEscape(projectName) + "/repositories"
	}
	repos, err := getAll[types.Repository](ctx, c, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing repositories of project %q: %w", projectName, err)
	}
	return repos, nil
}

// ListArtifacts lists a repository's artifacts, optionally restricted to
// artifacts carrying any of tags.
func (c *Client) ListArtifacts(ctx context.Context, projectName, repo string, tags []string, withScanOverview bool) ([]types.Artifact, error) {
	query := url.Values{}
	query.Set("with_tag", "true")
	query.Set("with_scan_overview", strconv.FormatBool(withScanOverview))
	if q := tagQuery(tags); q != "" {
		query.Set("q", q)
	}

	artifacts, err := getAll[artifact](ctx, c, c.artifactsPath(projectName, repo), query)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts of %s/%s: %w", projectName, repo, err)
	}
	out := make([]types.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, a.toArtifact())
	}
	return out, nil
}

// tagQuery builds Harbor's "match any" query over tag names.
func tagQuery(tags []string) string {
	var names []string
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			names = append(names, tag)
		}
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return "tags=" + names[0]
	default:
		return "tags=(" + strings.Join(names, " ") + ")"
	}
}

func (c *Client) GetArtifact(ctx context.Context, projectName, repo, reference string) (*types.Artifact, error) {
	query := url.Values{}
	query.Set("with_tag", "true")
	query.Set("with_scan_overview", "true")

	var a artifact
	path := c.artifactsPath(projectName, repo) + "/" + url.PathEscape(reference)
	if err := c.get(ctx, path, query, &a); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting artifact %s/%s@%s: %w", projectName, repo, reference, err)
	}
	out := a.toArtifact()
	return &out, nil
}

func (c *Client) GetRepository(ctx context.Context, projectName, repo string) (*types.Repository, error) {
	var r types.Repository
	path := "/projects/" + url.PathEscape(projectName) + "/repositories/" + escapeRepo(repo)
	if err := c.get(ctx, path, nil, &r); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting repository %s/%s: %w", projectName, repo, err)
	}
	return &r, nil
}

// GetVulnerabilityReport returns the artifact's report, or nil when Harbor
// has none for it.
func (c *Client) GetVulnerabilityReport(ctx context.Context, projectName, repo, reference string) (*types.VulnerabilityReport, error) {
	var reports map[string]types.VulnerabilityReport
	path := c.artifactsPath(projectName, repo) + "/" + url.PathEscape(reference) + "/additions/vulnerabilities"
	if err := c.get(ctx, path, nil, &reports); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting vulnerability report %s/%s@%s: %w", projectName, repo, reference, err)
	}

	if report, ok := reports[types.MimeTypeVulnerabilityReport]; ok {
		return &report, nil
	}
	// Older scanners report under a different version of the mime type.
	for mime, report := range reports {
		if strings.HasPrefix(mime, "application/vnd.security.vulnerability.report") {
			c.logger.WithFields(logrus.Fields{
				"mime_type": mime,
				"reference": reference,
			}).Debug("Using non-default vulnerability report mime type")
			return &report, nil
		}
	}
	return nil, nil
}

func (c *Client) GetProject(ctx context.Context, nameOrID string) (*types.Project, error) {
	var p project
	if err := c.get(ctx, "/projects/"+url.PathEscape(nameOrID), nil, &p); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting project %q: %w", nameOrID, err)
	}
	out := p.toProject()
	return &out, nil
}

func (c *Client) GetUser(ctx context.Context, id int64) (*types.User, error) {
	var u user
	if err := c.get(ctx, "/users/"+strconv.FormatInt(id, 10), nil, &u); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user %d: %w", id, err)
	}
	out := types.User(u)
	return &out, nil
}

func (c *Client) artifactsPath(projectName, repo string) string {
	return "/projects/" + url.PathEscape(projectName) + "/repositories/" + escapeRepo(repo) + "/artifacts"
}
