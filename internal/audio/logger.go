package audio

import (
	"sync"

	"github.com/tphakala/panns-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the audio package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("audio")
	})
	return serviceLogger
}
