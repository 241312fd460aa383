package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"true", "true", false},
		{"zero", "0", false},
		{"padded", " false ", false},
		{"yes", "yes", true},
		{"decimal", "0.5", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateEnvBool(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid boolean value")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvPath(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvPath("/var/cache/panns"))
	assert.NoError(t, validateEnvPath("~/panns"))
	assert.Error(t, validateEnvPath("relative/dir"))
	assert.Error(t, validateEnvPath("/var/../etc"))
}

func TestValidateEnvVisibleDevices(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvVisibleDevices("-1"))
	assert.NoError(t, validateEnvVisibleDevices("2"))
	assert.Error(t, validateEnvVisibleDevices("-2"))
	assert.Error(t, validateEnvVisibleDevices("all"))
}

func TestValidateEnvInterpolateMode(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvInterpolateMode("nearest"))
	assert.NoError(t, validateEnvInterpolateMode("linear"))
	assert.Error(t, validateEnvInterpolateMode("bicubic"))
}

func TestValidateEnvLogLevel(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvLogLevel("DEBUG"))
	assert.Error(t, validateEnvLogLevel("verbose"))
}

func TestEnvBindingsAreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for _, b := range getEnvBindings() {
		assert.False(t, seen[b.EnvVar], "duplicate binding %s", b.EnvVar)
		seen[b.EnvVar] = true
	}
}
