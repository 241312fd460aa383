// Package checkpoint resolves, downloads and decodes pretrained PANNs
// checkpoints.
package checkpoint

import (
	"maps"
	"path/filepath"
	"slices"

	"github.com/tphakala/panns-go/internal/conf"
)

// Extension is the file extension of downloaded checkpoints.
const Extension = ".pth"

var remoteURLs = map[string]string{
	conf.AudioTaggingModel:        "https://zenodo.org/record/3987831/files/Cnn14_mAP%3D0.431.pth?download=1",
	conf.SoundEventDetectionModel: "https://zenodo.org/record/3987831/files/Cnn14_DecisionLevelMax_mAP%3D0.385.pth?download=1",
}

// RemoteURL returns the archive URL for a known model name.
func RemoteURL(modelName string) (string, bool) {
	url, ok := remoteURLs[modelName]
	return url, ok
}

// KnownModels returns the model names with a remote archive, sorted.
func KnownModels() []string {
	return slices.Sorted(maps.Keys(remoteURLs))
}

// DefaultPath returns <cacheRoot>/<modelName>.pth.
func DefaultPath(cacheRoot, modelName string) string {
	return filepath.Join(cacheRoot, modelName+Extension)
}
