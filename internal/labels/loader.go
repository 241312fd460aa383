package labels

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tphakala/panns-go/internal/conf"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/httpclient"
	"github.com/tphakala/panns-go/internal/logger"
	"github.com/tphakala/panns-go/internal/observability/metrics"
)

// Source names where a loaded table came from.
type Source string

const (
	SourcePath      Source = "path"
	SourceCache     Source = "cache"
	SourceDownload  Source = "download"
	SourceEmbedded  Source = "embedded"
	SourceSynthetic Source = "synthetic"
)

// bundled holds the label CSV shipped inside the binary, when the build
// includes data/class_labels_indices.csv.
//
//go:embed data
var bundled embed.FS

// Bundled returns the file system searched for the shipped label CSV.
func Bundled() fs.FS {
	sub, err := fs.Sub(bundled, "data")
	if err != nil {
		return nil
	}
	return sub
}

// Loader resolves the label table from, in order: an explicit Path, the
// cached CSV under CacheDir, a download from URL into that cache, and the
// CSV in Bundled. An explicit Path that cannot be read always fails. When
// every other source fails and Fallback is set, a synthetic table of
// FallbackSize classes is returned with a warning.
type Loader struct {
	Path         string
	URL          string
	CacheDir     string
	Client       *httpclient.Client
	Bundled      fs.FS
	Fallback     bool
	FallbackSize int
	Logger       logger.Logger
	Metrics      *metrics.PANNsMetrics
}

// LoadResult describes a successful load.
type LoadResult struct {
	Table  *Table
	Source Source
	// Cause holds the error that forced the synthetic fallback.
	Cause error
}

// CachePath returns the cached CSV location under dir.
func CachePath(dir string) string {
	return filepath.Join(dir, conf.LabelsCSV)
}

// Load returns the label table.
func (l *Loader) Load(ctx context.Context) (*Table, error) {
	res, err := l.LoadWithResult(ctx)
	if err != nil {
		return nil, err
	}
	return res.Table, nil
}

// LoadWithResult is Load with the chosen source reported.
func (l *Loader) LoadWithResult(ctx context.Context) (*LoadResult, error) {
	log := l.logger()

	if l.Path != "" {
		t, err := ParseFile(l.Path)
		if err != nil {
			return nil, err
		}
		log.Debug("label table loaded", logger.String("source", string(SourcePath)), logger.Int("classes", t.Len()))
		return &LoadResult{Table: t, Source: SourcePath}, nil
	}

	t, source, err := l.loadCached(ctx)
	if err == nil {
		log.Debug("label table loaded", logger.String("source", string(source)), logger.Int("classes", t.Len()))
		return &LoadResult{Table: t, Source: source}, nil
	}

	if l.Bundled != nil {
		bt, bundledErr := l.loadBundled()
		if bundledErr == nil {
			log.Warn("label CSV unavailable, using bundled copy",
				logger.Int("classes", bt.Len()),
				logger.Error(err))
			return &LoadResult{Table: bt, Source: SourceEmbedded, Cause: err}, nil
		}
		log.Debug("bundled label CSV unusable", logger.Error(bundledErr))
	}

	if !l.Fallback {
		return nil, err
	}

	size := l.FallbackSize
	if size <= 0 {
		size = conf.FallbackClassCount
	}
	log.Warn("label table unavailable, using synthetic labels",
		logger.Int("classes", size),
		logger.Error(err))
	return &LoadResult{Table: Synthetic(size), Source: SourceSynthetic, Cause: err}, nil
}

func (l *Loader) loadCached(ctx context.Context) (*Table, Source, error) {
	if l.CacheDir == "" {
		return nil, "", dataLoadError(fmt.Errorf("no label path or cache directory configured"))
	}
	path := CachePath(l.CacheDir)

	t, cacheErr := ParseFile(path)
	if cacheErr == nil {
		return t, SourceCache, nil
	}
	if _, statErr := os.Stat(path); statErr == nil {
		l.logger().Warn("cached label CSV is unusable, downloading again",
			logger.String("path", path),
			logger.Error(cacheErr))
	}

	if l.URL == "" {
		return nil, "", cacheErr
	}

	client := l.Client
	if client == nil {
		client = httpclient.New(nil)
		defer client.Close()
	}

	start := time.Now()
	n, err := client.DownloadFile(ctx, l.URL, path, nil, nil)
	l.Metrics.RecordDownload(metrics.KindLabels, n, time.Since(start), err)
	if err != nil {
		return nil, "", errors.New(fmt.Errorf("download label CSV: %w", err)).
			Component("labels").
			Category(errors.CategoryDataLoad).
			NetworkContext(l.URL, 0).
			Build()
	}
	l.logger().Info("label CSV downloaded", logger.String("path", path), logger.Int64("bytes", n))

	t, err = ParseFile(path)
	if err != nil {
		return nil, "", err
	}
	return t, SourceDownload, nil
}

func (l *Loader) loadBundled() (*Table, error) {
	f, err := l.Bundled.Open(conf.LabelsCSV)
	if err != nil {
		return nil, dataLoadError(err)
	}
	defer f.Close()
	return Parse(f)
}

func (l *Loader) logger() logger.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return GetLogger()
}

// NewLoader builds a Loader from settings.
func NewLoader(settings *conf.Settings) (*Loader, error) {
	cacheDir, err := settings.CacheDir()
	if err != nil {
		return nil, err
	}
	path := settings.Labels.Path
	if path != "" {
		if path, err = conf.ExpandPath(path); err != nil {
			return nil, err
		}
	}
	return &Loader{
		Path:         path,
		URL:          settings.Labels.URL,
		CacheDir:     cacheDir,
		Bundled:      Bundled(),
		Fallback:     settings.Labels.Fallback,
		FallbackSize: settings.Labels.FallbackSize,
	}, nil
}

// Default returns the process-wide table, loading it on first use from the
// current settings. The result, including any error, is kept for the life of
// the process.
var Default = sync.OnceValues(func() (*Table, error) {
	loader, err := NewLoader(conf.Setting())
	if err != nil {
		return nil, dataLoadError(err)
	}
	return loader.Load(context.Background())
})
