// ABOUTME: Tests for restricting artifacts to images running in the cluster.
// ABOUTME: Covers tag, digest, implicit latest and root-level repository matching.

package engine

import (
	"testing"

	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestFilterDeployed(t *testing.T) {
	infos := []types.ArtifactInfo{
		{Repository: repository("production/web"), Artifact: artifact("v1", at(0), true)},
		{Repository: repository("production/web"), Artifact: artifact("v2", at(1), true)},
		{Repository: repository("production/api"), Artifact: artifact("latest", at(0), true)},
		{Repository: repository("staging/web"), Artifact: artifact("v1", at(0), true)},
		{Repository: repository("_/worker"), Artifact: artifact("stable", at(0), true)},
		{Repository: repository("production/db"), Artifact: artifact("14", at(0), true)},
	}

	images := []types.ImageInfo{
		{URI: "harbor.example.com/production/web:v2"},
		{URI: "harbor.example.com/production/api"},
		{URI: "123456789012.dkr.ecr.us-east-1.amazonaws.com/worker:stable"},
		{URI: "harbor.example.com/production/db@" + digestOf("14")},
		{URI: "Not A Valid Reference"},
	}

	kept := FilterDeployed(infos, images)

	var names []string
	for _, info := range kept {
		names = append(names, info.Name())
	}
	assert.Equal(t, []string{
		"production/web:v2",
		"production/api:latest",
		"_/worker:stable",
		"production/db:14",
	}, names)
}

func TestFilterDeployedDigestMismatch(t *testing.T) {
	infos := []types.ArtifactInfo{
		{Repository: repository("production/web"), Artifact: artifact("v1", at(0), true)},
	}
	images := []types.ImageInfo{{URI: "harbor.example.com/production/web:v1@" + digestOf("other")}}

	assert.Empty(t, FilterDeployed(infos, images))
	assert.Empty(t, FilterDeployed(infos, nil))
}
