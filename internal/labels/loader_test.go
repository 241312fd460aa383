package labels

import (
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/httpclient"
	"github.com/tphakala/panns-go/internal/logger"
)

const labelsURL = "https://labels.example.test/class_labels_indices.csv"

func newMockClient(t *testing.T, status int, body string) (*httpclient.Client, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, labelsURL, httpmock.NewStringResponder(status, body))
	client := httpclient.New(&httpclient.Config{Transport: mock})
	t.Cleanup(client.Close)
	return client, mock
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func TestLoader_ExplicitPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	res, err := (&Loader{Path: path, Logger: quietLogger()}).LoadWithResult(t.Context())
	require.NoError(t, err)
	assert.Equal(t, SourcePath, res.Source)
	assert.Equal(t, 4, res.Table.Len())
}

func TestLoader_ExplicitPathMissingIsHardFailure(t *testing.T) {
	t.Parallel()

	l := &Loader{
		Path:     filepath.Join(t.TempDir(), "missing.csv"),
		CacheDir: t.TempDir(),
		Fallback: true,
		Logger:   quietLogger(),
	}
	_, err := l.Load(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsDataLoad(err))
}

func TestLoader_UsesCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(CachePath(dir), []byte(sampleCSV), 0o600))
	client, mock := newMockClient(t, http.StatusOK, sampleCSV)

	res, err := (&Loader{CacheDir: dir, URL: labelsURL, Client: client, Logger: quietLogger()}).LoadWithResult(t.Context())
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Zero(t, mock.GetTotalCallCount())
}

func TestLoader_DownloadsIntoCache(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cache")
	client, mock := newMockClient(t, http.StatusOK, sampleCSV)

	res, err := (&Loader{CacheDir: dir, URL: labelsURL, Client: client, Logger: quietLogger()}).LoadWithResult(t.Context())
	require.NoError(t, err)
	assert.Equal(t, SourceDownload, res.Source)
	assert.Equal(t, 4, res.Table.Len())
	assert.Equal(t, 1, mock.GetTotalCallCount())
	assert.FileExists(t, CachePath(dir))
}

func TestLoader_MissingWithoutFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	client, _ := newMockClient(t, http.StatusNotFound, "")

	_, err := (&Loader{CacheDir: dir, URL: labelsURL, Client: client, Logger: quietLogger()}).Load(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsDataLoad(err))
	assert.NoFileExists(t, CachePath(dir))
}

func TestLoader_MissingWithFallback(t *testing.T) {
	t.Parallel()

	client, _ := newMockClient(t, http.StatusNotFound, "")

	res, err := (&Loader{
		CacheDir: t.TempDir(),
		URL:      labelsURL,
		Client:   client,
		Fallback: true,
		Logger:   quietLogger(),
	}).LoadWithResult(t.Context())
	require.NoError(t, err)
	assert.Equal(t, SourceSynthetic, res.Source)
	require.Error(t, res.Cause)
	assert.Equal(t, 527, res.Table.Len())
	assert.Equal(t, "label_0", res.Table.Name(0))
	assert.Equal(t, "label_526", res.Table.Name(526))
}

func TestLoader_CorruptCacheIsReplaced(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(CachePath(dir), []byte("garbage"), 0o600))
	client, mock := newMockClient(t, http.StatusOK, sampleCSV)

	res, err := (&Loader{CacheDir: dir, URL: labelsURL, Client: client, Logger: quietLogger()}).LoadWithResult(t.Context())
	require.NoError(t, err)
	assert.Equal(t, SourceDownload, res.Source)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestLoader_BundledAfterCacheAndDownload(t *testing.T) {
	t.Parallel()

	client, mock := newMockClient(t, http.StatusNotFound, "")
	bundle := fstest.MapFS{"class_labels_indices.csv": {Data: []byte(sampleCSV)}}

	res, err := (&Loader{
		CacheDir: t.TempDir(),
		URL:      labelsURL,
		Client:   client,
		Bundled:  bundle,
		Fallback: true,
		Logger:   quietLogger(),
	}).LoadWithResult(t.Context())
	require.NoError(t, err)
	assert.Equal(t, SourceEmbedded, res.Source)
	assert.False(t, res.Table.IsSynthetic())
	require.Error(t, res.Cause)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestLoader_CachePreferredOverBundled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(CachePath(dir), []byte(sampleCSV), 0o600))

	res, err := (&Loader{
		CacheDir: dir,
		Bundled:  fstest.MapFS{"class_labels_indices.csv": {Data: []byte("garbage")}},
		Logger:   quietLogger(),
	}).LoadWithResult(t.Context())
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
}

func TestLoader_UnusableBundleFallsBackToSynthetic(t *testing.T) {
	t.Parallel()

	tests := map[string]fstest.MapFS{
		"missing": {},
		"corrupt": {"class_labels_indices.csv": {Data: []byte("garbage")}},
	}
	for name, bundle := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			res, err := (&Loader{
				Bundled:      bundle,
				Fallback:     true,
				FallbackSize: 3,
				Logger:       quietLogger(),
			}).LoadWithResult(t.Context())
			require.NoError(t, err)
			assert.Equal(t, SourceSynthetic, res.Source)
			assert.Equal(t, 3, res.Table.Len())
		})
	}

	_, err := (&Loader{Bundled: fstest.MapFS{}, Logger: quietLogger()}).Load(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsDataLoad(err))
}

func TestBundled(t *testing.T) {
	t.Parallel()

	bundle := Bundled()
	require.NotNil(t, bundle)
	_, err := fs.Stat(bundle, "README.md")
	require.NoError(t, err)
}
