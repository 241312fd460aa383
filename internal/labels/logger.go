package labels

import (
	"sync"

	"github.com/tphakala/panns-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the labels package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("labels")
	})
	return serviceLogger
}
