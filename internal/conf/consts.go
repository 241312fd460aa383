// conf/consts.go hard coded constants
package conf

const (
	SampleRate = 32000 // Sample rate of the audio fed to the PANNs models
	WindowSize = 1024  // STFT window size in samples
	HopSize    = 320   // STFT hop size in samples
	MelBins    = 64
	FMin       = 50    // Lowest mel filter frequency in Hz
	FMax       = 14000 // Highest mel filter frequency in Hz

	// MinCheckpointSize is the size floor below which a cached checkpoint is
	// treated as truncated and downloaded again.
	MinCheckpointSize = 300_000_000

	// FallbackClassCount is the size of the synthetic label table, matching AudioSet.
	FallbackClassCount = 527

	AudioTaggingModel        = "Cnn14_mAP=0.431"
	SoundEventDetectionModel = "Cnn14_DecisionLevelMax"

	LabelsCSV        = "class_labels_indices.csv"
	DefaultLabelsURL = "http://storage.googleapis.com/us_audioset/youtube_corpus/v1/csv/class_labels_indices.csv"

	DefaultCacheDirName = ".panns_data"
)
