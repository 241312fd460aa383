package inference

import (
	"sync"

	"github.com/tphakala/panns-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the inference package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("inference")
	})
	return serviceLogger
}
