package conf

import "github.com/tphakala/panns-go/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// It is fetched on each call so a logger installed after init is picked up.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
