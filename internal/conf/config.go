// Package conf provides configuration management for panns-go.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/panns-go/internal/logger"
)

// Settings contains all configuration options.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Cache               CacheSettings               `yaml:"cache" mapstructure:"cache"`
	Labels              LabelSettings               `yaml:"labels" mapstructure:"labels"`
	Checkpoint          CheckpointSettings          `yaml:"checkpoint" mapstructure:"checkpoint"`
	Inference           InferenceSettings           `yaml:"inference" mapstructure:"inference"`
	AudioTagging        ModelSettings               `yaml:"audiotagging" mapstructure:"audiotagging"`
	SoundEventDetection SoundEventDetectionSettings `yaml:"soundeventdetection" mapstructure:"soundeventdetection"`
	Logging             logger.LoggingConfig        `yaml:"logging" mapstructure:"logging"`
	Telemetry           TelemetrySettings           `yaml:"telemetry" mapstructure:"telemetry"`
	Metrics             MetricsSettings             `yaml:"metrics" mapstructure:"metrics"`
}

// CacheSettings controls where checkpoints, graphs and label files are cached.
type CacheSettings struct {
	Dir string `yaml:"dir" mapstructure:"dir"` // empty means ~/.panns_data
}

// LabelSettings controls how the label table is sourced.
type LabelSettings struct {
	Path         string `yaml:"path" mapstructure:"path"`                 // explicit CSV path, used verbatim
	URL          string `yaml:"url" mapstructure:"url"`                   // download source when no cached copy exists
	Fallback     bool   `yaml:"fallback" mapstructure:"fallback"`         // synthesize labels when no source is usable
	FallbackSize int    `yaml:"fallbacksize" mapstructure:"fallbacksize"` // number of synthetic classes
}

// CheckpointSettings controls checkpoint download and validation.
type CheckpointSettings struct {
	MinValidSize    int64         `yaml:"minvalidsize" mapstructure:"minvalidsize"`       // bytes, smaller files are re-downloaded
	DownloadTimeout time.Duration `yaml:"downloadtimeout" mapstructure:"downloadtimeout"` // 0 disables the overall timeout
	ProgressEvery   time.Duration `yaml:"progressevery" mapstructure:"progressevery"`     // interval between progress log lines
}

// InferenceSettings holds device placement options shared by both wrappers.
type InferenceSettings struct {
	Device         string `yaml:"device" mapstructure:"device"`                 // cuda, gpu, webgpu or cpu
	VisibleDevices int    `yaml:"visibledevices" mapstructure:"visibledevices"` // cap on accelerators used, -1 for all
}

// ModelSettings locates the checkpoint and graph for one wrapper.
type ModelSettings struct {
	ModelName      string `yaml:"modelname" mapstructure:"modelname"`
	CheckpointPath string `yaml:"checkpointpath" mapstructure:"checkpointpath"` // empty means <cache>/<model>.pth
	GraphPath      string `yaml:"graphpath" mapstructure:"graphpath"`           // empty means <cache>/<model>.onnx
}

// SoundEventDetectionSettings adds the frame interpolation mode.
type SoundEventDetectionSettings struct {
	ModelSettings   `yaml:",inline" mapstructure:",squash"`
	InterpolateMode string `yaml:"interpolatemode" mapstructure:"interpolatemode"` // nearest or linear
}

// TelemetrySettings controls Sentry error reporting.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// MetricsSettings controls Prometheus collectors.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, if any, and environment variables.
func Load() (*Settings, error) {
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return nil, fmt.Errorf("error getting default config paths: %w", err)
	}
	return load(paths, "")
}

// LoadFile reads settings from an explicit YAML file.
func LoadFile(path string) (*Settings, error) {
	return load(nil, path)
}

func load(searchPaths []string, file string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v, err := initViper(searchPaths, file)
	if err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper creates a viper instance with defaults, env bindings and the config file.
func initViper(searchPaths []string, file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		return nil, err
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	for _, path := range searchPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Debug("no config file found, using defaults")
			return v, nil
		}
		return nil, fmt.Errorf("fatal error reading config file: %w", err)
	}

	GetLogger().Debug("config file loaded", logger.String("path", v.ConfigFileUsed()))
	return v, nil
}

// GetSettings returns the last loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings, loading them once if necessary.
// A broken config file falls back to defaults with a warning.
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() != nil {
			return
		}
		if _, err := Load(); err != nil {
			GetLogger().Warn("failed to load settings, using defaults", logger.Error(err))
			defaults := Defaults()
			settingsMutex.Lock()
			settingsInstance = defaults
			settingsMutex.Unlock()
		}
	})
	return GetSettings()
}

// Defaults returns settings built only from default values.
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		// defaults are static, a failure here is a programming error
		panic(fmt.Sprintf("conf: unmarshal defaults: %v", err))
	}
	return settings
}

// WriteDefault writes the default configuration as YAML to path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempName := tempFile.Name()
	defer os.Remove(tempName)

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	return os.Rename(tempName, path)
}

// CacheDir returns the resolved cache directory with "~" expanded.
func (s *Settings) CacheDir() (string, error) {
	if s.Cache.Dir != "" {
		return ExpandPath(s.Cache.Dir)
	}
	return DefaultCacheDir()
}

// DefaultCacheDir returns ~/.panns_data.
func DefaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultCacheDirName), nil
}

// ExpandPath expands a leading "~" and environment variables.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path, nil
}
