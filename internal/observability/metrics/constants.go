package metrics

// Label values shared by the collectors.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	KindCheckpoint = "checkpoint"
	KindLabels     = "labels"

	ModeStrict     = "strict"
	ModePermissive = "permissive"

	WrapperAudioTagging        = "audio_tagging"
	WrapperSoundEventDetection = "sound_event_detection"
)
