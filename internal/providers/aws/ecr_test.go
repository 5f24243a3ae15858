// ABOUTME: Tests for the ECR registry client using a fake ECR API.
// ABOUTME: Covers project synthesis, image mapping, tag filtering and scan finding conversion.

package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeECR struct {
	repositories []ecrtypes.Repository
	images       map[string][]ecrtypes.ImageDetail
	findings     map[string]*ecrtypes.ImageScanFindings
	findingsErr  error
}

func (f *fakeECR) DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	if len(params.RepositoryNames) == 0 {
		return &ecr.DescribeRepositoriesOutput{Repositories: f.repositories}, nil
	}
	var out []ecrtypes.Repository
	for _, repo := range f.repositories {
		for _, name := range params.RepositoryNames {
			if aws.ToString(repo.RepositoryName) == name {
				out = append(out, repo)
			}
		}
	}
	if len(out) == 0 {
		return nil, &ecrtypes.RepositoryNotFoundException{Message: aws.String("not found")}
	}
	return &ecr.DescribeRepositoriesOutput{Repositories: out}, nil
}

func (f *fakeECR) DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
	details, ok := f.images[aws.ToString(params.RepositoryName)]
	if !ok {
		return nil, &ecrtypes.RepositoryNotFoundException{Message: aws.String("not found")}
	}
	if len(params.ImageIds) == 0 {
		return &ecr.DescribeImagesOutput{ImageDetails: details}, nil
	}
	id := params.ImageIds[0]
	for _, detail := range details {
		if id.ImageDigest != nil && aws.ToString(detail.ImageDigest) == *id.ImageDigest {
			return &ecr.DescribeImagesOutput{ImageDetails: []ecrtypes.ImageDetail{detail}}, nil
		}
		for _, tag := range detail.ImageTags {
			if id.ImageTag != nil && tag == *id.ImageTag {
				return &ecr.DescribeImagesOutput{ImageDetails: []ecrtypes.ImageDetail{detail}}, nil
			}
		}
	}
	return nil, &ecrtypes.ImageNotFoundException{Message: aws.String("not found")}
}

func (f *fakeECR) DescribeImageScanFindings(ctx context.Context, params *ecr.DescribeImageScanFindingsInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImageScanFindingsOutput, error) {
	if f.findingsErr != nil {
		return nil, f.findingsErr
	}
	key := aws.ToString(params.RepositoryName) + ":" + aws.ToString(params.ImageId.ImageTag) + aws.ToString(params.ImageId.ImageDigest)
	findings, ok := f.findings[key]
	if !ok {
		return nil, &ecrtypes.ScanNotFoundException{Message: aws.String("no scan")}
	}
	return &ecr.DescribeImageScanFindingsOutput{ImageScanFindings: findings}, nil
}

func newTestRegistry(api ECRAPI) *ECRRegistry {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewECRRegistryWithClient(api, "123456789012", "us-east-1", logger)
}

func testFakeECR() *fakeECR {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pushed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return &fakeECR{
		repositories: []ecrtypes.Repository{
			{RepositoryName: aws.String("team/api"), CreatedAt: aws.Time(created)},
			{RepositoryName: aws.String("team/web/frontend"), CreatedAt: aws.Time(created.Add(time.Hour))},
			{RepositoryName: aws.String("standalone"), CreatedAt: aws.Time(created)},
		},
		images: map[string][]ecrtypes.ImageDetail{
			"team/api": {
				{
					ImageDigest:   aws.String("sha256:1111"),
					ImageTags:     []string{"v1.0.0", "latest"},
					ImagePushedAt: aws.Time(pushed),
					ImageScanStatus: &ecrtypes.ImageScanStatus{
						Status: ecrtypes.ScanStatusComplete,
					},
					ImageScanFindingsSummary: &ecrtypes.ImageScanFindingsSummary{
						FindingSeverityCounts: map[string]int32{"HIGH": 2, "LOW": 1, "INFORMATIONAL": 0},
					},
				},
				{
					ImageDigest: aws.String("sha256:2222"),
					ImageTags:   []string{"dev"},
				},
			},
			"standalone": {},
		},
		findings: map[string]*ecrtypes.ImageScanFindings{
			"team/api:v1.0.0": {
				ImageScanCompletedAt: aws.Time(pushed.Add(time.Hour)),
				Findings: []ecrtypes.ImageScanFinding{
					{
						Name:     aws.String("CVE-2024-1000"),
						Severity: ecrtypes.FindingSeverityHigh,
						Uri:      aws.String("https://security-tracker.debian.org/tracker/CVE-2024-1000"),
						Attributes: []ecrtypes.Attribute{
							{Key: aws.String("package_name"), Value: aws.String("openssl")},
							{Key: aws.String("package_version"), Value: aws.String("3.0.1")},
							{Key: aws.String("CVSS3_SCORE"), Value: aws.String("7.5")},
						},
					},
				},
				EnhancedFindings: []ecrtypes.EnhancedImageScanFinding{
					{
						Title:    aws.String("CVE-2024-2000 - curl"),
						Severity: aws.String("CRITICAL"),
						Score:    9.1,
						PackageVulnerabilityDetails: &ecrtypes.PackageVulnerabilityDetails{
							VulnerabilityId: aws.String("CVE-2024-2000"),
							VulnerablePackages: []ecrtypes.VulnerablePackage{
								{Name: aws.String("curl"), Version: aws.String("7.88"), FixedInVersion: aws.String("8.0")},
							},
						},
					},
				},
			},
		},
	}
}

func TestECRRegistryName(t *testing.T) {
	assert.Equal(t, "aws-ecr", newTestRegistry(&fakeECR{}).Name())
}

func TestSplitAndJoinRepositoryName(t *testing.T) {
	tests := []struct {
		name    string
		project string
		repo    string
	}{
		{name: "team/api", project: "team", repo: "api"},
		{name: "team/web/frontend", project: "team", repo: "web/frontend"},
		{name: "standalone", project: RootProject, repo: "standalone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project, repo := SplitRepositoryName(tt.name)
			assert.Equal(t, tt.project, project)
			assert.Equal(t, tt.repo, repo)
			assert.Equal(t, tt.name, JoinRepositoryName(project, repo))
		})
	}
}

func TestECRListProjects(t *testing.T) {
	registry := newTestRegistry(testFakeECR())

	projects, err := registry.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)

	assert.Equal(t, RootProject, projects[0].Name)
	assert.Equal(t, int64(1), projects[0].ProjectID)
	assert.Equal(t, "team", projects[1].Name)
	assert.Equal(t, 2, projects[1].RepoCount)

	project, err := registry.GetProject(context.Background(), "2")
	require.NoError(t, err)
	require.NotNil(t, project)
	assert.Equal(t, "team", project.Name)

	missing, err := registry.GetProject(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestECRListRepositories(t *testing.T) {
	registry := newTestRegistry(testFakeECR())

	repos, err := registry.ListRepositories(context.Background(), "team")
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "team/api", repos[0].Name)
	assert.Equal(t, "team/web/frontend", repos[1].Name)

	project, repo, ok := repos[1].SplitName()
	assert.True(t, ok)
	assert.Equal(t, "team", project)
	assert.Equal(t, "web/frontend", repo)

	all, err := registry.ListRepositories(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "_/standalone", all[2].Name)
}

func TestECRListArtifacts(t *testing.T) {
	registry := newTestRegistry(testFakeECR())

	artifacts, err := registry.ListArtifacts(context.Background(), "team", "api", nil, true)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	scanned := artifacts[0]
	assert.Equal(t, "sha256:1111", scanned.Digest)
	assert.Equal(t, []string{"v1.0.0", "latest"}, scanned.TagNames())
	require.True(t, scanned.HasScanOverview())
	summary := scanned.ScanOverview[types.MimeTypeVulnerabilityReport]
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, types.SeverityHigh, summary.Severity)
	assert.Equal(t, "COMPLETE", summary.ScanStatus)
	assert.False(t, artifacts[1].HasScanOverview())

	filtered, err := registry.ListArtifacts(context.Background(), "team", "api", []string{"dev"}, true)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "sha256:2222", filtered[0].Digest)

	noOverview, err := registry.ListArtifacts(context.Background(), "team", "api", nil, false)
	require.NoError(t, err)
	assert.False(t, noOverview[0].HasScanOverview())

	_, err = registry.ListArtifacts(context.Background(), "team", "missing", nil, true)
	assert.Error(t, err)
}

func TestECRGetArtifactAndRepository(t *testing.T) {
	registry := newTestRegistry(testFakeECR())
	ctx := context.Background()

	artifact, err := registry.GetArtifact(ctx, "team", "api", "sha256:1111")
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, "sha256:1111", artifact.Digest)

	byTag, err := registry.GetArtifact(ctx, "team", "api", "dev")
	require.NoError(t, err)
	require.NotNil(t, byTag)
	assert.Equal(t, "sha256:2222", byTag.Digest)

	missing, err := registry.GetArtifact(ctx, "team", "api", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	repo, err := registry.GetRepository(ctx, RootProject, "standalone")
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, "_/standalone", repo.Name)

	missingRepo, err := registry.GetRepository(ctx, "team", "nope")
	require.NoError(t, err)
	assert.Nil(t, missingRepo)

	user, err := registry.GetUser(ctx, 1)
	assert.NoError(t, err)
	assert.Nil(t, user)
}

func TestECRGetVulnerabilityReport(t *testing.T) {
	registry := newTestRegistry(testFakeECR())

	report, err := registry.GetVulnerabilityReport(context.Background(), "team", "api", "v1.0.0")
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Len(t, report.Vulnerabilities, 2)

	assert.Equal(t, "Amazon Inspector", report.Scanner.Name)
	assert.Equal(t, types.SeverityCritical, report.Severity)

	basic := report.Vulnerabilities[0]
	assert.Equal(t, "CVE-2024-1000", basic.ID)
	assert.Equal(t, "openssl", basic.Package)
	assert.Equal(t, 7.5, basic.CVSSScore(report.Scanner))
	assert.False(t, basic.Fixable())

	enhanced := report.Vulnerabilities[1]
	assert.Equal(t, "CVE-2024-2000", enhanced.ID)
	assert.Equal(t, "curl", enhanced.Package)
	assert.Equal(t, "8.0", enhanced.FixVersion)
	assert.InDelta(t, 9.1, enhanced.CVSSScore(report.Scanner), 0.001)

	missing, err := registry.GetVulnerabilityReport(context.Background(), "team", "api", "dev")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestECRGetVulnerabilityReportError(t *testing.T) {
	fake := testFakeECR()
	fake.findingsErr = errors.New("throttled")
	registry := newTestRegistry(fake)

	_, err := registry.GetVulnerabilityReport(context.Background(), "team", "api", "v1.0.0")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
