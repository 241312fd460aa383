package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/panns-go/internal/conf"
	"github.com/tphakala/panns-go/internal/device"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/httpclient"
	"github.com/tphakala/panns-go/internal/logger"
	"github.com/tphakala/panns-go/internal/observability/metrics"
)

// Handle locates one checkpoint. It is valid when LocalPath exists and
// holds at least MinValidSize bytes.
type Handle struct {
	ModelName    string
	LocalPath    string
	RemoteURL    string // empty when the model has no known archive
	MinValidSize int64
}

// Valid reports whether the local file exists and passes the size floor.
func (h Handle) Valid() bool {
	info, err := os.Stat(h.LocalPath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Size() >= h.MinValidSize
}

// Resolver maps model names to cached checkpoint files and fetches them
// when the cached copy is missing or truncated.
//
// Resolving the same path from several goroutines or processes at once is
// not coordinated.
type Resolver struct {
	CacheDir     string
	MinValidSize int64
	Client       *httpclient.Client
	// Progress receives download progress. Nil logs it at ProgressEvery.
	Progress      httpclient.ProgressFunc
	ProgressEvery time.Duration
	// Timeout bounds a whole download; zero leaves it to the caller's context.
	Timeout time.Duration
	// URLs overrides the built-in archive locations, e.g. for a mirror.
	URLs    map[string]string
	Metrics *metrics.PANNsMetrics
	Logger  logger.Logger
}

// NewResolver builds a Resolver from settings.
func NewResolver(settings *conf.Settings) (*Resolver, error) {
	cacheDir, err := settings.CacheDir()
	if err != nil {
		return nil, err
	}
	return &Resolver{
		CacheDir:      cacheDir,
		MinValidSize:  settings.Checkpoint.MinValidSize,
		ProgressEvery: settings.Checkpoint.ProgressEvery,
		Timeout:       settings.Checkpoint.DownloadTimeout,
	}, nil
}

// Resolve returns the handle for modelName. A non-empty explicitPath is used
// verbatim without touching the filesystem; otherwise the default cache
// path is used, which requires a known model name.
func (r *Resolver) Resolve(modelName, explicitPath string) (Handle, error) {
	url, known := r.remoteURL(modelName)

	h := Handle{
		ModelName:    modelName,
		LocalPath:    explicitPath,
		RemoteURL:    url,
		MinValidSize: r.minValidSize(),
	}
	if explicitPath != "" {
		return h, nil
	}

	if !known {
		return Handle{}, errors.Newf("unknown model %q, known models: %v", modelName, KnownModels()).
			Component("checkpoint").
			Category(errors.CategoryValidation).
			Context("model_name", modelName).
			Build()
	}
	if r.CacheDir == "" {
		return Handle{}, errors.Newf("no checkpoint cache directory configured").
			Component("checkpoint").
			Category(errors.CategoryConfiguration).
			Build()
	}
	h.LocalPath = DefaultPath(r.CacheDir, modelName)
	return h, nil
}

// Ensure downloads the checkpoint when h is not Valid. A failed download
// leaves no file at h.LocalPath and returns a CategoryDownload error. There
// is no retry. A handle without a RemoteURL is left for the loader to reject.
func (r *Resolver) Ensure(ctx context.Context, h Handle) error {
	if h.Valid() {
		r.logger().Debug("checkpoint present", logger.String("path", h.LocalPath))
		return nil
	}
	if h.RemoteURL == "" {
		r.logger().Debug("checkpoint invalid and no archive known, leaving it to the loader",
			logger.String("path", h.LocalPath))
		return nil
	}
	return r.download(ctx, h)
}

func (r *Resolver) download(ctx context.Context, h Handle) error {
	downloadID := uuid.NewString()
	log := r.logger().With(
		logger.String("download_id", downloadID),
		logger.String("model", h.ModelName))

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	fail := func(err error, n int64, elapsed time.Duration) error {
		r.Metrics.RecordDownload(metrics.KindCheckpoint, n, elapsed, err)
		log.Error("checkpoint download failed", logger.Error(err))
		return errors.New(fmt.Errorf("download checkpoint %s: %w", h.ModelName, err)).
			Component("checkpoint").
			Category(errors.CategoryDownload).
			ModelContext(h.LocalPath, h.ModelName).
			NetworkContext(h.RemoteURL, r.Timeout).
			Context("download_id", downloadID).
			Timing("checkpoint_download", elapsed).
			Build()
	}

	dir := filepath.Dir(h.LocalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(fmt.Errorf("create cache directory: %w", err), 0, 0)
	}
	if free, err := device.FreeDiskSpace(dir); err == nil && free < uint64(max(h.MinValidSize, 0)) {
		return fail(fmt.Errorf("only %d bytes free in %s, need at least %d", free, dir, h.MinValidSize), 0, 0)
	}

	client := r.Client
	if client == nil {
		client = httpclient.New(nil)
		defer client.Close()
	}
	progress := r.Progress
	if progress == nil {
		progress = LogProgress(log, r.ProgressEvery)
	}

	log.Info("downloading checkpoint", logger.String("path", h.LocalPath), logger.String("url", h.RemoteURL))

	start := time.Now()
	n, err := client.DownloadFile(ctx, h.RemoteURL, h.LocalPath, progress, func(written int64) error {
		if written < h.MinValidSize {
			return fmt.Errorf("downloaded %d bytes, below the %d byte floor", written, h.MinValidSize)
		}
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return fail(err, n, elapsed)
	}

	r.Metrics.RecordDownload(metrics.KindCheckpoint, n, elapsed, nil)
	log.Info("checkpoint downloaded",
		logger.Int64("bytes", n),
		logger.Duration("elapsed", elapsed))
	return nil
}

func (r *Resolver) remoteURL(modelName string) (string, bool) {
	if url, ok := r.URLs[modelName]; ok {
		return url, true
	}
	return RemoteURL(modelName)
}

func (r *Resolver) minValidSize() int64 {
	if r.MinValidSize > 0 {
		return r.MinValidSize
	}
	return conf.MinCheckpointSize
}

func (r *Resolver) logger() logger.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return GetLogger()
}
