// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// InterpolateModes lists the accepted frame upsampling modes.
var InterpolateModes = []string{"nearest", "linear"}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct.
// The device string is not validated: unknown devices fall back to CPU.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) error{
		validateLabelSettings,
		validateCheckpointSettings,
		validateInferenceSettings,
		validateModelSettings,
	} {
		if err := check(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLabelSettings(s *Settings) error {
	var errs []string

	if s.Labels.URL != "" {
		if err := validateURL(s.Labels.URL); err != nil {
			errs = append(errs, fmt.Sprintf("labels.url: %v", err))
		}
	}
	if s.Labels.Fallback && s.Labels.FallbackSize <= 0 {
		errs = append(errs, fmt.Sprintf("labels.fallbacksize must be positive, got %d", s.Labels.FallbackSize))
	}

	return joinErrs(errs)
}

func validateCheckpointSettings(s *Settings) error {
	var errs []string

	if s.Checkpoint.MinValidSize <= 0 {
		errs = append(errs, fmt.Sprintf("checkpoint.minvalidsize must be positive, got %d", s.Checkpoint.MinValidSize))
	}
	if s.Checkpoint.DownloadTimeout < 0 {
		errs = append(errs, "checkpoint.downloadtimeout must not be negative")
	}
	if s.Checkpoint.ProgressEvery < 0 {
		errs = append(errs, "checkpoint.progressevery must not be negative")
	}

	return joinErrs(errs)
}

func validateInferenceSettings(s *Settings) error {
	if s.Inference.VisibleDevices < -1 {
		return fmt.Errorf("inference.visibledevices must be -1 or greater, got %d", s.Inference.VisibleDevices)
	}
	return nil
}

func validateModelSettings(s *Settings) error {
	var errs []string

	if s.AudioTagging.ModelName == "" {
		errs = append(errs, "audiotagging.modelname must not be empty")
	}
	if s.SoundEventDetection.ModelName == "" {
		errs = append(errs, "soundeventdetection.modelname must not be empty")
	}
	if !slices.Contains(InterpolateModes, s.SoundEventDetection.InterpolateMode) {
		errs = append(errs, fmt.Sprintf("soundeventdetection.interpolatemode must be one of %v, got %q",
			InterpolateModes, s.SoundEventDetection.InterpolateMode))
	}

	return joinErrs(errs)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}
