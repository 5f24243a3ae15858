// ABOUTME: AWS ECR registry client exposing repositories, images and scan findings.
// ABOUTME: Maps ECR's flat repository namespace onto projects by first path segment.

package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
)

// RootProject holds repositories that have no path prefix.
const RootProject = "_"

// ECRAPI is the subset of the ECR client used by ECRRegistry.
type ECRAPI interface {
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
	DescribeImageScanFindings(ctx context.Context, params *ecr.DescribeImageScanFindingsInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImageScanFindingsOutput, error)
}

// ECRRegistry implements RegistryClient for Amazon ECR
type ECRRegistry struct {
	client    ECRAPI
	accountID string
	region    string
	logger    *logrus.Logger
}

// NewECRRegistry creates a new ECR registry client
func NewECRRegistry(ctx context.Context, accountID, region string, logger *logrus.Logger) (*ECRRegistry, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Check if we need to assume a role based on AWS_IAM_ASSUME_ROLE_ARN environment variable
	if assumeRoleARN := os.Getenv("AWS_IAM_ASSUME_ROLE_ARN"); assumeRoleARN != "" {
		logger.WithField("role_arn", assumeRoleARN).Info("Assuming role from AWS_IAM_ASSUME_ROLE_ARN environment variable")

		stsClient := sts.NewFromConfig(cfg.Copy())
		cfg.Credentials = stscreds.NewAssumeRoleProvider(stsClient, assumeRoleARN)
	} else {
		// Fallback: Check caller identity and assume role if in different account
		stsClient := sts.NewFromConfig(cfg.Copy())

		identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			logger.WithError(err).Warn("Could not get caller identity, proceeding with default credentials")
		} else {
			currentAccountID := aws.ToString(identity.Account)
			logger.WithFields(logrus.Fields{
				"current_account": currentAccountID,
				"target_account":  accountID,
			}).Info("AWS identity information")

			if currentAccountID != accountID {
				roleARN := fmt.Sprintf("arn:aws:iam::%s:role/VulnLensRegistryReaderRole", accountID)
				logger.WithField("role_arn", roleARN).Info("Assuming cross-account role")
				cfg.Credentials = stscreds.NewAssumeRoleProvider(stsClient, roleARN)
			}
		}
	}

	return NewECRRegistryWithClient(ecr.NewFromConfig(cfg), accountID, region, logger), nil
}

// NewECRRegistryWithClient wraps an existing ECR API client.
func NewECRRegistryWithClient(client ECRAPI, accountID, region string, logger *logrus.Logger) *ECRRegistry {
	return &ECRRegistry{
		client:    client,
		accountID: accountID,
		region:    region,
		logger:    logger,
	}
}

// Name returns the registry name
func (e *ECRRegistry) Name() string {
	return "aws-ecr"
}

// SplitRepositoryName maps an ECR repository name to (project, repo).
func SplitRepositoryName(name string) (project, repo string) {
	if project, repo, ok := strings.Cut(name, "/"); ok && project != "" && repo != "" {
		return project, repo
	}
	return RootProject, name
}

// JoinRepositoryName is the inverse of SplitRepositoryName.
func JoinRepositoryName(project, repo string) string {
	if project == RootProject || project == "" {
		return repo
	}
	return project + "/" + repo
}

func (e *ECRRegistry) registryID() *string {
	if e.accountID == "" {
		return nil
	}
	return aws.String(e.accountID)
}

func (e *ECRRegistry) describeAllRepositories(ctx context.Context) ([]ecrtypes.Repository, error) {
	paginator := ecr.NewDescribeRepositoriesPaginator(e.client, &ecr.DescribeRepositoriesInput{
		RegistryId: e.registryID(),
	})

	var repos []ecrtypes.Repository
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe repositories: %w", err)
		}
		repos = append(repos, page.Repositories...)
	}
	return repos, nil
}

// ListProjects synthesizes one project per distinct path prefix. Project IDs
// follow the sorted order of project names.
func (e *ECRRegistry) ListProjects(ctx context.Context) ([]types.Project, error) {
	repos, err := e.describeAllRepositories(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*types.Project)
	for _, repo := range repos {
		project, _ := SplitRepositoryName(aws.ToString(repo.RepositoryName))
		p, ok := byName[project]
		if !ok {
			p = &types.Project{Name: project}
			byName[project] = p
		}
		p.RepoCount++
		if repo.CreatedAt != nil && (p.CreationTime.IsZero() || repo.CreatedAt.Before(p.CreationTime)) {
			p.CreationTime = *repo.CreatedAt
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	projects := make([]types.Project, 0, len(names))
	for i, name := range names {
		p := *byName[name]
		p.ProjectID = int64(i + 1)
		projects = append(projects, p)
	}
	return projects, nil
}

// ListRepositories lists repositories under project, or all repositories
// when project is empty.
func (e *ECRRegistry) ListRepositories(ctx context.Context, project string) ([]types.Repository, error) {
	repos, err := e.describeAllRepositories(ctx)
	if err != nil {
		return nil, err
	}

	var out []types.Repository
	for i, repo := range repos {
		name := aws.ToString(repo.RepositoryName)
		repoProject, base := SplitRepositoryName(name)
		if project != "" && repoProject != project {
			continue
		}
		out = append(out, toRepository(int64(i+1), repoProject, base, repo))
	}
	return out, nil
}

func toRepository(id int64, project, base string, repo ecrtypes.Repository) types.Repository {
	r := types.Repository{
		ID:   id,
		Name: project + "/" + base,
	}
	if repo.CreatedAt != nil {
		r.CreationTime = *repo.CreatedAt
		r.UpdateTime = *repo.CreatedAt
	}
	return r
}

// ListArtifacts lists the images in a repository. ECR cannot filter by tag
// server side, so the tag allow-list is applied here.
func (e *ECRRegistry) ListArtifacts(ctx context.Context, project, repo string, tags []string, withScanOverview bool) ([]types.Artifact, error) {
	repoName := JoinRepositoryName(project, repo)
	paginator := ecr.NewDescribeImagesPaginator(e.client, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repoName),
		RegistryId:     e.registryID(),
	})

	wanted := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if tag != "" {
			wanted[tag] = true
		}
	}

	var artifacts []types.Artifact
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe images of %s: %w", repoName, err)
		}
		for _, detail := range page.ImageDetails {
			if len(wanted) > 0 && !hasAnyTag(detail.ImageTags, wanted) {
				continue
			}
			artifacts = append(artifacts, toArtifact(detail, withScanOverview))
		}
	}

	e.logger.WithFields(logrus.Fields{
		"repository": repoName,
		"artifacts":  len(artifacts),
	}).Debug("Listed ECR images")
	return artifacts, nil
}

func hasAnyTag(tags []string, wanted map[string]bool) bool {
	for _, tag := range tags {
		if wanted[tag] {
			return true
		}
	}
	return false
}

func toArtifact(detail ecrtypes.ImageDetail, withScanOverview bool) types.Artifact {
	a := types.Artifact{
		Digest:    aws.ToString(detail.ImageDigest),
		MediaType: aws.ToString(detail.ImageManifestMediaType),
		Size:      aws.ToInt64(detail.ImageSizeInBytes),
		PushTime:  detail.ImagePushedAt,
	}
	for _, tag := range detail.ImageTags {
		a.Tags = append(a.Tags, types.Tag{Name: tag, PushTime: detail.ImagePushedAt})
	}

	if withScanOverview && detail.ImageScanFindingsSummary != nil {
		summary := types.ScanSummary{
			Summary: make(map[types.Severity]int),
			EndTime: detail.ImageScanFindingsSummary.ImageScanCompletedAt,
		}
		if detail.ImageScanStatus != nil {
			summary.ScanStatus = string(detail.ImageScanStatus.Status)
		}
		var present []types.Severity
		for severity, count := range detail.ImageScanFindingsSummary.FindingSeverityCounts {
			sev := types.ParseSeverity(severity)
			summary.Summary[sev] += int(count)
			summary.Total += int(count)
			if count > 0 {
				present = append(present, sev)
			}
		}
		summary.Severity = types.Highest(present...)
		a.ScanOverview = map[string]types.ScanSummary{types.MimeTypeVulnerabilityReport: summary}
	}
	return a
}

func imageID(reference string) *ecrtypes.ImageIdentifier {
	if strings.HasPrefix(reference, "sha256:") {
		return &ecrtypes.ImageIdentifier{ImageDigest: aws.String(reference)}
	}
	return &ecrtypes.ImageIdentifier{ImageTag: aws.String(reference)}
}

func (e *ECRRegistry) GetArtifact(ctx context.Context, project, repo, reference string) (*types.Artifact, error) {
	repoName := JoinRepositoryName(project, repo)
	output, err := e.client.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repoName),
		RegistryId:     e.registryID(),
		ImageIds:       []ecrtypes.ImageIdentifier{*imageID(reference)},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe image %s:%s: %w", repoName, reference, err)
	}
	if len(output.ImageDetails) == 0 {
		return nil, nil
	}
	artifact := toArtifact(output.ImageDetails[0], true)
	return &artifact, nil
}

func (e *ECRRegistry) GetRepository(ctx context.Context, project, repo string) (*types.Repository, error) {
	repoName := JoinRepositoryName(project, repo)
	output, err := e.client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RegistryId:      e.registryID(),
		RepositoryNames: []string{repoName},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe repository %s: %w", repoName, err)
	}
	if len(output.Repositories) == 0 {
		return nil, nil
	}
	repoProject, base := SplitRepositoryName(repoName)
	r := toRepository(0, repoProject, base, output.Repositories[0])
	return &r, nil
}

// GetVulnerabilityReport converts basic and enhanced (Inspector) scan
// findings into a report. It returns nil when the image was never scanned.
func (e *ECRRegistry) GetVulnerabilityReport(ctx context.Context, project, repo, reference string) (*types.VulnerabilityReport, error) {
	repoName := JoinRepositoryName(project, repo)
	logger := e.logger.WithFields(logrus.Fields{
		"repository": repoName,
		"reference":  reference,
	})

	paginator := ecr.NewDescribeImageScanFindingsPaginator(e.client, &ecr.DescribeImageScanFindingsInput{
		RepositoryName: aws.String(repoName),
		RegistryId:     e.registryID(),
		ImageId:        imageID(reference),
	})

	report := &types.VulnerabilityReport{}
	enhanced := false
	scanned := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNotFound(err) {
				logger.Debug("No scan findings for image")
				return nil, nil
			}
			return nil, fmt.Errorf("failed to describe image scan findings for %s:%s: %w", repoName, reference, err)
		}
		if page.ImageScanFindings == nil {
			continue
		}
		scanned = true
		findings := page.ImageScanFindings
		if findings.ImageScanCompletedAt != nil {
			report.GeneratedAt = *findings.ImageScanCompletedAt
		}
		for _, finding := range findings.Findings {
			report.Vulnerabilities = append(report.Vulnerabilities, fromBasicFinding(finding))
		}
		for _, finding := range findings.EnhancedFindings {
			enhanced = true
			report.Vulnerabilities = append(report.Vulnerabilities, fromEnhancedFinding(finding))
		}
	}
	if !scanned {
		return nil, nil
	}

	report.Scanner = &types.Scanner{Name: "Amazon ECR", Vendor: "Amazon Web Services", Version: "basic"}
	if enhanced {
		report.Scanner = &types.Scanner{Name: "Amazon Inspector", Vendor: "Amazon Web Services", Version: "enhanced"}
	}

	severities := make([]types.Severity, 0, len(report.Vulnerabilities))
	for _, vuln := range report.Vulnerabilities {
		severities = append(severities, vuln.Severity)
	}
	report.Severity = types.Highest(severities...)

	logger.WithFields(logrus.Fields{
		"vulnerabilities": len(report.Vulnerabilities),
		"enhanced":        enhanced,
		"severity":        report.Severity.String(),
	}).Debug("Retrieved vulnerability report")
	return report, nil
}

func fromBasicFinding(finding ecrtypes.ImageScanFinding) types.VulnerabilityItem {
	item := types.VulnerabilityItem{
		ID:          aws.ToString(finding.Name),
		Description: aws.ToString(finding.Description),
		Severity:    types.ParseSeverity(string(finding.Severity)),
	}
	if finding.Uri != nil {
		item.Links = []string{*finding.Uri}
	}

	cvss := &types.CVSSDetails{}
	for _, attr := range finding.Attributes {
		value := aws.ToString(attr.Value)
		switch aws.ToString(attr.Key) {
		case "package_name":
			item.Package = value
		case "package_version":
			item.Version = value
		case "CVSS3_SCORE":
			cvss.ScoreV3 = parseScore(value)
		case "CVSS3_VECTOR":
			cvss.VectorV3 = value
		case "CVSS2_SCORE":
			cvss.ScoreV2 = parseScore(value)
		case "CVSS2_VECTOR":
			cvss.VectorV2 = value
		}
	}
	if cvss.ScoreV3 != nil || cvss.ScoreV2 != nil {
		item.PreferredCVSS = cvss
	}
	return item
}

func fromEnhancedFinding(finding ecrtypes.EnhancedImageScanFinding) types.VulnerabilityItem {
	item := types.VulnerabilityItem{
		ID:          aws.ToString(finding.Title),
		Description: aws.ToString(finding.Description),
		Severity:    types.ParseSeverity(aws.ToString(finding.Severity)),
		VendorAttributes: map[string]any{
			"status":            aws.ToString(finding.Status),
			"type":              aws.ToString(finding.Type),
			"exploit_available": aws.ToString(finding.ExploitAvailable),
			"fix_available":     aws.ToString(finding.FixAvailable),
		},
	}

	if finding.Score > 0 {
		score := float32(finding.Score)
		item.PreferredCVSS = &types.CVSSDetails{ScoreV3: &score}
		if finding.ScoreDetails != nil && finding.ScoreDetails.Cvss != nil {
			item.PreferredCVSS.VectorV3 = aws.ToString(finding.ScoreDetails.Cvss.ScoringVector)
		}
	}

	if details := finding.PackageVulnerabilityDetails; details != nil {
		if details.VulnerabilityId != nil {
			item.ID = *details.VulnerabilityId
		}
		item.Links = append(item.Links, details.ReferenceUrls...)
		if details.SourceUrl != nil {
			item.Links = append(item.Links, *details.SourceUrl)
		}
		// Use first package for simplicity
		if len(details.VulnerablePackages) > 0 {
			pkg := details.VulnerablePackages[0]
			item.Package = aws.ToString(pkg.Name)
			item.Version = aws.ToString(pkg.Version)
			item.FixVersion = aws.ToString(pkg.FixedInVersion)
		}
	}
	return item
}

func parseScore(value string) *float32 {
	score, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil
	}
	f := float32(score)
	return &f
}

// GetProject resolves a synthesized project by name or numeric ID.
func (e *ECRRegistry) GetProject(ctx context.Context, nameOrID string) (*types.Project, error) {
	projects, err := e.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.Name == nameOrID || strconv.FormatInt(p.ProjectID, 10) == nameOrID {
			project := p
			return &project, nil
		}
	}
	return nil, nil
}

// GetUser always reports not found; ECR has no user model.
func (e *ECRRegistry) GetUser(ctx context.Context, id int64) (*types.User, error) {
	return nil, nil
}

var notFoundCodes = map[string]bool{
	"RepositoryNotFoundException": true,
	"ImageNotFoundException":      true,
	"ScanNotFoundException":       true,
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()]
}

