// ABOUTME: Artifact aggregator that fans registry calls out and merges the results.
// ABOUTME: Lists projects, repositories and artifacts and fetches reports in paced batches.

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jfeddern/VulnLens/internal/metrics"
	"github.com/jfeddern/VulnLens/internal/providers"
	"github.com/jfeddern/VulnLens/internal/types"
	godigest "github.com/opencontainers/go-digest"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoReference is returned when neither a tag nor a digest is given.
	ErrNoReference = errors.New("either a tag or a digest is required")
	// ErrInvalidDigest is returned for a digest that does not parse.
	ErrInvalidDigest = errors.New("invalid digest")
)

// Config tunes the aggregator's pacing and retries.
type Config struct {
	// BatchSize is the number of report fetches issued together. <= 0 fetches
	// everything in one batch.
	BatchSize int
	// BatchPause is the wait between report batches. <= 0 disables pacing.
	BatchPause time.Duration
	// RetryAttempts bounds the attempts of a timed out artifact listing.
	RetryAttempts        int
	RetryInitialInterval time.Duration
	// Concurrency limits every fan-out. 0 means unbounded.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:            5,
		BatchPause:           time.Second,
		RetryAttempts:        3,
		RetryInitialInterval: 500 * time.Millisecond,
	}
}

// ReportOptions builds report options using the configured batching.
func (c Config) ReportOptions(projects, tags []string, excOK bool) ReportOptions {
	return ReportOptions{
		Tags:      tags,
		Projects:  projects,
		ExcOK:     excOK,
		BatchSize: c.BatchSize,
		Pause:     c.BatchPause,
	}
}

// ReportOptions selects the artifacts GetVulnerabilityReports fetches.
type ReportOptions struct {
	// Tags restricts artifacts to these tag names. Empty means all.
	Tags []string
	// Projects to scan. Empty means every project in the registry.
	Projects []string
	// ExcOK logs and skips failed fetches instead of failing the call.
	ExcOK     bool
	BatchSize int
	Pause     time.Duration
}

// Comparator picks the later of two artifacts of the same repository when
// push times cannot decide.
type Comparator func(a, b types.ArtifactInfo) types.ArtifactInfo

// Aggregator combines registry resources into ArtifactInfo collections.
type Aggregator struct {
	client   providers.RegistryClient
	config   Config
	logger   *logrus.Logger
	recorder *metrics.Recorder

	pause func(ctx context.Context, d time.Duration) error
}

// NewAggregator creates an aggregator over client. recorder may be nil.
func NewAggregator(client providers.RegistryClient, config Config, logger *logrus.Logger, recorder *metrics.Recorder) *Aggregator {
	return &Aggregator{
		client:   client,
		config:   config,
		logger:   logger,
		recorder: recorder,
		pause:    sleep,
	}
}

func (a *Aggregator) Config() Config {
	return a.config
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// observe times one registry call.
func observe[R any](a *Aggregator, operation string, call func() (R, error)) (R, error) {
	start := time.Now()
	result, err := call()
	a.recorder.ObserveRequest(operation, start, err)
	return result, err
}

func (a *Aggregator) ListProjects(ctx context.Context) ([]types.Project, error) {
	projects, err := observe(a, "list_projects", func() ([]types.Project, error) {
		return a.client.ListProjects(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return projects, nil
}

// ListRepositories lists the repositories of every project concurrently.
func (a *Aggregator) ListRepositories(ctx context.Context, projects []string, excOK bool) ([]types.Repository, error) {
	logger := a.logger.WithField("operation", "list_repositories")

	results, errs := gather(ctx, a.config.Concurrency, projects, func(ctx context.Context, project string) ([]types.Repository, error) {
		repos, err := observe(a, "list_repositories", func() ([]types.Repository, error) {
			return a.client.ListRepositories(ctx, project)
		})
		if err != nil {
			return nil, fmt.Errorf("listing repositories of project %s: %w", project, err)
		}
		return repos, nil
	})

	kept, err := merge(logger, results, errs, excOK)
	if err != nil {
		return nil, err
	}
	repos := lo.Flatten(kept)

	logger.WithFields(logrus.Fields{
		"projects":     len(projects),
		"repositories": len(repos),
	}).Debug("Listed repositories")
	return repos, nil
}

// ListArtifacts lists the artifacts of every repository concurrently. A nil
// repos lists every repository in the registry first. Listings that time out
// are retried with exponential backoff.
func (a *Aggregator) ListArtifacts(ctx context.Context, repos []types.Repository, tags []string, excOK bool) ([]types.ArtifactInfo, error) {
	logger := a.logger.WithField("operation", "list_artifacts")

	if repos == nil {
		all, err := observe(a, "list_repositories", func() ([]types.Repository, error) {
			return a.client.ListRepositories(ctx, "")
		})
		if err != nil {
			return nil, fmt.Errorf("listing repositories: %w", err)
		}
		repos = all
	}

	results, errs := gather(ctx, a.config.Concurrency, repos, func(ctx context.Context, repo types.Repository) ([]types.ArtifactInfo, error) {
		return a.listRepositoryArtifacts(ctx, repo, tags)
	})

	kept, err := merge(logger, results, errs, excOK)
	if err != nil {
		return nil, err
	}
	infos := lo.Flatten(kept)

	logger.WithFields(logrus.Fields{
		"repositories": len(repos),
		"artifacts":    len(infos),
	}).Debug("Listed artifacts")
	return infos, nil
}

func (a *Aggregator) listRepositoryArtifacts(ctx context.Context, repo types.Repository, tags []string) ([]types.ArtifactInfo, error) {
	project, name, ok := repo.SplitName()
	if !ok {
		a.logger.WithField("repository", repo.Name).Warn("Skipping repository with unsplittable name")
		return nil, nil
	}

	var artifacts []types.Artifact
	err := a.retry(ctx, "list_artifacts", func() error {
		var err error
		artifacts, err = observe(a, "list_artifacts", func() ([]types.Artifact, error) {
			return a.client.ListArtifacts(ctx, project, name, tags, true)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing artifacts of %s: %w", repo.Name, err)
	}

	return lo.Map(artifacts, func(artifact types.Artifact, _ int) types.ArtifactInfo {
		return types.ArtifactInfo{Artifact: artifact, Repository: repo}
	}), nil
}

// retry runs fn until it succeeds, fails with something other than a
// timeout, or runs out of attempts.
func (a *Aggregator) retry(ctx context.Context, operation string, fn func() error) error {
	attempts := a.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.config.RetryInitialInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !providers.IsTimeout(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		a.recorder.Retry(operation)
		a.logger.WithError(err).WithFields(logrus.Fields{
			"operation": operation,
			"next":      next,
		}).Warn("Registry call timed out, retrying")
	})
}

// GetVulnerabilityReports lists the artifacts of the selected projects and
// fetches the report of every scanned artifact. Reports are fetched in
// sequential batches of concurrent requests with a pause between batches.
func (a *Aggregator) GetVulnerabilityReports(ctx context.Context, opts ReportOptions) ([]types.ArtifactInfo, error) {
	logger := a.logger.WithField("operation", "get_vulnerability_reports")
	startTime := time.Now()

	projects := opts.Projects
	if len(projects) == 0 {
		all, err := a.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		projects = lo.Map(all, func(p types.Project, _ int) string { return p.Name })
	}
	if len(projects) == 0 {
		return []types.ArtifactInfo{}, nil
	}

	repos, err := a.ListRepositories(ctx, projects, opts.ExcOK)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return []types.ArtifactInfo{}, nil
	}

	infos, err := a.ListArtifacts(ctx, repos, opts.Tags, opts.ExcOK)
	if err != nil {
		return nil, err
	}

	scanned := lo.Filter(infos, func(info types.ArtifactInfo, _ int) bool {
		return info.Artifact.HasScanOverview()
	})

	reports, err := a.fetchReports(ctx, scanned, opts)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"duration":  time.Since(startTime),
		"projects":  len(projects),
		"artifacts": len(infos),
		"scanned":   len(scanned),
		"reports":   len(reports),
	}).Info("Vulnerability reports collected")
	return reports, nil
}

func (a *Aggregator) fetchReports(ctx context.Context, infos []types.ArtifactInfo, opts ReportOptions) ([]types.ArtifactInfo, error) {
	logger := a.logger.WithField("operation", "fetch_reports")
	if len(infos) == 0 {
		return []types.ArtifactInfo{}, nil
	}

	size := opts.BatchSize
	if size <= 0 {
		size = len(infos)
	}

	fetched := make([]types.ArtifactInfo, 0, len(infos))
	for i, batch := range lo.Chunk(infos, size) {
		if i > 0 && opts.Pause > 0 {
			if err := a.pause(ctx, opts.Pause); err != nil {
				return nil, err
			}
		}

		results, errs := gather(ctx, a.config.Concurrency, batch, a.fetchReport)
		a.recorder.Batch()

		kept, err := merge(logger, results, errs, opts.ExcOK)
		if err != nil {
			return nil, err
		}
		fetched = append(fetched, kept...)

		logger.WithFields(logrus.Fields{
			"batch": i + 1,
			"size":  len(batch),
		}).Debug("Fetched report batch")
	}
	return fetched, nil
}

func (a *Aggregator) fetchReport(ctx context.Context, info types.ArtifactInfo) (types.ArtifactInfo, error) {
	project, repo, ok := info.Repository.SplitName()
	if !ok {
		return info, fmt.Errorf("invalid repository name %q", info.Repository.Name)
	}

	report, err := observe(a, "get_vulnerability_report", func() (*types.VulnerabilityReport, error) {
		return a.client.GetVulnerabilityReport(ctx, project, repo, info.Artifact.Reference())
	})
	if err != nil {
		return info, fmt.Errorf("fetching report for %s: %w", info.Name(), err)
	}
	if report == nil {
		a.logger.WithField("artifact", info.Name()).Debug("No vulnerability report for artifact")
		return info, nil
	}
	return info.WithReport(*report), nil
}

// FilterLatest keeps the most recently pushed artifact of every repository,
// in the order repositories are first seen. When a push time is missing the
// fallback decides, or the current pick is kept if fallback is nil.
func FilterLatest(artifacts []types.ArtifactInfo, fallback Comparator) []types.ArtifactInfo {
	latest := make(map[string]types.ArtifactInfo)
	var order []string

	for _, candidate := range artifacts {
		name := candidate.Repository.Name
		if name == "" {
			continue
		}

		incumbent, seen := latest[name]
		if !seen {
			latest[name] = candidate
			order = append(order, name)
			continue
		}

		incumbentTime, candidateTime := incumbent.Artifact.PushTime, candidate.Artifact.PushTime
		if incumbentTime == nil || candidateTime == nil {
			if fallback != nil {
				latest[name] = fallback(incumbent, candidate)
			}
			continue
		}
		if candidateTime.After(*incumbentTime) {
			latest[name] = candidate
		}
	}

	return lo.Map(order, func(name string, _ int) types.ArtifactInfo {
		return latest[name]
	})
}

// GetArtifactByDigestOrTag fetches one artifact with its repository and
// report. The tag wins when both are given. A missing artifact, repository
// or report yields (nil, nil).
func (a *Aggregator) GetArtifactByDigestOrTag(ctx context.Context, project, repo, tag, digest string) (*types.ArtifactInfo, error) {
	if tag == "" && digest == "" {
		return nil, ErrNoReference
	}
	if digest != "" {
		if _, err := godigest.Parse(digest); err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidDigest, digest, err)
		}
	}

	reference, separator := digest, "@"
	if tag != "" {
		reference, separator = tag, ":"
	}
	name := project + "/" + repo + separator + reference
	logger := a.logger.WithField("artifact", name)

	artifact, err := observe(a, "get_artifact", func() (*types.Artifact, error) {
		return a.client.GetArtifact(ctx, project, repo, reference)
	})
	if err != nil {
		return nil, fmt.Errorf("getting artifact %s: %w", name, err)
	}
	if artifact == nil {
		logger.Info("Artifact not found")
		return nil, nil
	}

	repository, err := observe(a, "get_repository", func() (*types.Repository, error) {
		return a.client.GetRepository(ctx, project, repo)
	})
	if err != nil {
		return nil, fmt.Errorf("getting repository %s/%s: %w", project, repo, err)
	}
	if repository == nil {
		logger.Info("Repository not found")
		return nil, nil
	}

	report, err := observe(a, "get_vulnerability_report", func() (*types.VulnerabilityReport, error) {
		return a.client.GetVulnerabilityReport(ctx, project, repo, reference)
	})
	if err != nil {
		return nil, fmt.Errorf("getting vulnerability report of %s: %w", name, err)
	}
	if report == nil {
		logger.Info("Vulnerability report not found")
		return nil, nil
	}

	return &types.ArtifactInfo{
		Artifact:   *artifact,
		Repository: *repository,
		Report:     *report,
	}, nil
}

// GetProjectOwner returns the owner of a project, or nil when either the
// project or its owner does not exist.
func (a *Aggregator) GetProjectOwner(ctx context.Context, projectNameOrID string) (*types.User, error) {
	project, err := observe(a, "get_project", func() (*types.Project, error) {
		return a.client.GetProject(ctx, projectNameOrID)
	})
	if err != nil {
		return nil, fmt.Errorf("getting project %s: %w", projectNameOrID, err)
	}
	if project == nil {
		a.logger.WithField("project", projectNameOrID).Info("Project not found")
		return nil, nil
	}

	user, err := observe(a, "get_user", func() (*types.User, error) {
		return a.client.GetUser(ctx, project.OwnerID)
	})
	if err != nil {
		return nil, fmt.Errorf("getting owner of project %s: %w", project.Name, err)
	}
	if user == nil {
		a.logger.WithFields(logrus.Fields{
			"project":  project.Name,
			"owner_id": project.OwnerID,
		}).Info("Project owner not found")
	}
	return user, nil
}
