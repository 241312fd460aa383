package device

import "github.com/tphakala/panns-go/internal/logger"

// GetLogger returns the device package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("device")
}
