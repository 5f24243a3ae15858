// ABOUTME: File-based image discovery for running without cluster access.
// ABOUTME: Reads deployed image references from a JSON list of strings or objects.

package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
)

// ImageListProvider implements ImageDiscoverer from a JSON file
type ImageListProvider struct {
	imageListFile string
	logger        *logrus.Logger
}

func NewImageListProvider(imageListFile string, logger *logrus.Logger) *ImageListProvider {
	return &ImageListProvider{
		imageListFile: imageListFile,
		logger:        logger,
	}
}

// Name returns the provider name
func (l *ImageListProvider) Name() string {
	return "local"
}

// imageEntry accepts either "registry/repo:tag" or a full ImageInfo object.
type imageEntry struct {
	types.ImageInfo
}

func (e *imageEntry) UnmarshalJSON(data []byte) error {
	var uri string
	if err := json.Unmarshal(data, &uri); err == nil {
		e.ImageInfo = types.ImageInfo{URI: uri}
		return nil
	}
	return json.Unmarshal(data, &e.ImageInfo)
}

// DiscoverImages reads container images from the JSON file
func (l *ImageListProvider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	logger := l.logger.WithField("operation", "discover_images_local")

	data, err := os.ReadFile(l.imageListFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read image list file '%s': %w", l.imageListFile, err)
	}

	var entries []imageEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse image list JSON: %w", err)
	}

	var images []types.ImageInfo
	for _, entry := range entries {
		if entry.URI == "" {
			continue
		}
		image := entry.ImageInfo
		if image.Namespace == "" {
			image.Namespace = "local"
		}
		if image.Workload == "" {
			image.Workload = "local"
		}
		if image.WorkloadType == "" {
			image.WorkloadType = "Local"
		}
		images = append(images, image)
	}

	logger.WithFields(logrus.Fields{
		"entries":      len(entries),
		"valid_images": len(images),
	}).Info("Local image discovery completed")
	return images, nil
}
