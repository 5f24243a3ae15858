// ABOUTME: Restricts collected artifacts to images running in the cluster.
// ABOUTME: Image references are parsed with distribution/reference and matched by path and tag or digest.

package engine

import (
	"strings"

	"github.com/distribution/reference"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/samber/lo"
)

// rootProject holds repositories without a project path, as ECR reports them.
const rootProject = "_/"

type deployedRef struct {
	tag    string
	digest string
}

// FilterDeployed keeps artifacts that a running image refers to. An image
// pinned by digest matches that digest; otherwise its tag (latest when
// absent) must be one of the artifact's tags. Unparseable images are ignored.
func FilterDeployed(artifacts []types.ArtifactInfo, images []types.ImageInfo) []types.ArtifactInfo {
	refs := make(map[string][]deployedRef)
	for _, image := range images {
		named, err := reference.ParseNormalizedNamed(image.URI)
		if err != nil {
			continue
		}
		named = reference.TagNameOnly(named)

		var ref deployedRef
		if digested, ok := named.(reference.Digested); ok {
			ref.digest = digested.Digest().String()
		}
		if tagged, ok := named.(reference.Tagged); ok {
			ref.tag = tagged.Tag()
		}
		path := reference.Path(named)
		refs[path] = append(refs[path], ref)
	}

	return lo.Filter(artifacts, func(info types.ArtifactInfo, _ int) bool {
		candidates := refs[info.Repository.Name]
		if path, ok := strings.CutPrefix(info.Repository.Name, rootProject); ok {
			candidates = append(candidates, refs[path]...)
		}
		return lo.SomeBy(candidates, func(ref deployedRef) bool {
			if ref.digest != "" {
				return ref.digest == info.Artifact.Digest
			}
			return lo.Contains(info.Artifact.TagNames(), ref.tag)
		})
	})
}
