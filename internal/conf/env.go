// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"cache.dir", "PANNS_CACHE_DIR", validateEnvPath},

		{"labels.path", "PANNS_LABELS_PATH", validateEnvPath},
		{"labels.url", "PANNS_LABELS_URL", validateEnvURL},
		{"labels.fallback", "PANNS_LABELS_FALLBACK", validateEnvBool},

		{"checkpoint.minvalidsize", "PANNS_CHECKPOINT_MIN_SIZE", validateEnvPositiveInt},

		{"inference.device", "PANNS_DEVICE", nil},
		{"inference.visibledevices", "PANNS_VISIBLE_DEVICES", validateEnvVisibleDevices},

		{"audiotagging.checkpointpath", "PANNS_AT_CHECKPOINT", validateEnvPath},
		{"audiotagging.graphpath", "PANNS_AT_GRAPH", validateEnvPath},
		{"soundeventdetection.checkpointpath", "PANNS_SED_CHECKPOINT", validateEnvPath},
		{"soundeventdetection.graphpath", "PANNS_SED_GRAPH", validateEnvPath},
		{"soundeventdetection.interpolatemode", "PANNS_SED_INTERPOLATE", validateEnvInterpolateMode},

		{"logging.default_level", "PANNS_LOG_LEVEL", validateEnvLogLevel},
		{"telemetry.enabled", "PANNS_TELEMETRY", validateEnvBool},
		{"telemetry.dsn", "PANNS_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value: %w", err)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer value: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("value must be positive, got %d", n)
	}
	return nil
}

func validateEnvVisibleDevices(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer value: %w", err)
	}
	if n < -1 {
		return fmt.Errorf("visible devices must be -1 or greater, got %d", n)
	}
	return nil
}

func validateEnvInterpolateMode(value string) error {
	if !slices.Contains(InterpolateModes, strings.TrimSpace(value)) {
		return fmt.Errorf("must be one of %v", InterpolateModes)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("unknown log level")
}

func validateEnvURL(value string) error {
	return validateURL(strings.TrimSpace(value))
}

// validateEnvPath accepts absolute paths and "~/" paths without traversal.
// Files need not exist yet: caches and checkpoints are created on demand.
func validateEnvPath(value string) error {
	expanded, err := ExpandPath(strings.TrimSpace(value))
	if err != nil {
		return err
	}

	if !filepath.IsAbs(expanded) {
		return fmt.Errorf("path must be absolute, got relative path: %s", expanded)
	}

	for part := range strings.SplitSeq(filepath.ToSlash(value), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", value)
		}
	}

	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars(v)
}
