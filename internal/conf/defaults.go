// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("cache.dir", "")

	v.SetDefault("labels.path", "")
	v.SetDefault("labels.url", DefaultLabelsURL)
	v.SetDefault("labels.fallback", true)
	v.SetDefault("labels.fallbacksize", FallbackClassCount)

	v.SetDefault("checkpoint.minvalidsize", MinCheckpointSize)
	v.SetDefault("checkpoint.downloadtimeout", time.Duration(0))
	v.SetDefault("checkpoint.progressevery", 2*time.Second)

	v.SetDefault("inference.device", "cuda")
	v.SetDefault("inference.visibledevices", -1)

	v.SetDefault("audiotagging.modelname", AudioTaggingModel)
	v.SetDefault("audiotagging.checkpointpath", "")
	v.SetDefault("audiotagging.graphpath", "")

	v.SetDefault("soundeventdetection.modelname", SoundEventDetectionModel)
	v.SetDefault("soundeventdetection.checkpointpath", "")
	v.SetDefault("soundeventdetection.graphpath", "")
	v.SetDefault("soundeventdetection.interpolatemode", "nearest")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/panns.log")
	v.SetDefault("logging.file_output.level", "debug")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")

	v.SetDefault("metrics.enabled", true)
}
