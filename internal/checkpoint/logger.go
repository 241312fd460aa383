package checkpoint

import (
	"sync"

	"github.com/tphakala/panns-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the checkpoint package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("checkpoint")
	})
	return serviceLogger
}
