package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tphakala/panns-go/internal/device"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/logger"
	"github.com/tphakala/panns-go/internal/model"
	"github.com/tphakala/panns-go/internal/observability/metrics"
)

// Mode selects how much a decoder trusts the checkpoint file.
type Mode string

const (
	// ModeStrict decodes only tensors and plain containers.
	ModeStrict Mode = metrics.ModeStrict
	// ModePermissive accepts any pickled object and ignores what it cannot use.
	ModePermissive Mode = metrics.ModePermissive
)

// ModelEntry is the key under which a checkpoint stores the parameters.
const ModelEntry = "model"

var errNoModelEntry = errors.NewStd("checkpoint has no \"model\" entry")

type decoder func(path string, mode Mode) (model.ParameterStore, error)

// Loader decodes checkpoint files into parameter stores.
type Loader struct {
	Metrics *metrics.PANNsMetrics
	Logger  logger.Logger
	// AvailableMemory reports free host memory; nil uses the system value.
	AvailableMemory func() (uint64, error)
}

// Load reads the checkpoint at path. It decodes in strict mode first and
// retries in permissive mode, with a warning, when strict decoding rejects
// the format. I/O failures are returned as CategoryCheckpointLoad without a
// retry, and a checkpoint without a model entry as CategoryCheckpointFormat.
//
// Parameters are always decoded to host memory; placement only affects logs.
func (l *Loader) Load(path string, placement device.Config) (model.ParameterStore, error) {
	log := l.logger().With(logger.String("path", path), logger.String("placement", placement.String()))

	size, err := checkReadable(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("open checkpoint: %w", err)).
			Component("checkpoint").
			Category(errors.CategoryCheckpointLoad).
			ModelContext(path, "").
			Build()
	}
	l.checkMemory(log, size)

	decode := decoderFor(path)

	store, err := l.decode(decode, path, ModeStrict)
	if err == nil {
		log.Debug("checkpoint decoded", logger.String("mode", string(ModeStrict)), logger.Int("parameters", len(store)))
		return store, nil
	}
	if errors.Is(err, errNoModelEntry) {
		return nil, formatError(path, err)
	}

	log.Warn("strict checkpoint decoding failed, falling back to permissive decoding", logger.Error(err))

	store, err = l.decode(decode, path, ModePermissive)
	if err != nil {
		if errors.Is(err, errNoModelEntry) {
			return nil, formatError(path, err)
		}
		return nil, errors.New(fmt.Errorf("decode checkpoint: %w", err)).
			Component("checkpoint").
			Category(errors.CategoryCheckpointLoad).
			ModelContext(path, "").
			FileContext(path, size).
			Build()
	}
	log.Debug("checkpoint decoded", logger.String("mode", string(ModePermissive)), logger.Int("parameters", len(store)))
	return store, nil
}

func (l *Loader) decode(decode decoder, path string, mode Mode) (model.ParameterStore, error) {
	start := time.Now()
	store, err := decode(path, mode)
	l.Metrics.RecordCheckpointLoad(string(mode), time.Since(start), err)
	return store, err
}

func (l *Loader) checkMemory(log logger.Logger, size int64) {
	available := l.AvailableMemory
	if available == nil {
		available = device.AvailableMemory
	}
	free, err := available()
	if err != nil {
		log.Debug("could not read available memory", logger.Error(err))
		return
	}
	if uint64(size) > free {
		log.Warn("checkpoint is larger than available memory",
			logger.Int64("checkpoint_bytes", size),
			logger.Any("available_bytes", free))
	}
}

func (l *Loader) logger() logger.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return GetLogger()
}

// checkReadable opens path once so that missing files and permission
// problems are told apart from decode failures.
func checkReadable(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func decoderFor(path string) decoder {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return decodeSafetensors
	default:
		return decodePth
	}
}

func formatError(path string, err error) error {
	return errors.New(err).
		Component("checkpoint").
		Category(errors.CategoryCheckpointFormat).
		ModelContext(path, "").
		Build()
}
