package checkpoint

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/panns-go/internal/httpclient"
	"github.com/tphakala/panns-go/internal/logger"
)

const defaultProgressEvery = 2 * time.Second

// LogProgress returns a ProgressFunc that logs the download percentage at
// most once per every, plus the final update. Without a Content-Length it
// logs the byte count instead.
func LogProgress(log logger.Logger, every time.Duration) httpclient.ProgressFunc {
	if every <= 0 {
		every = defaultProgressEvery
	}
	limiter := &rate.Sometimes{First: 1, Interval: every}
	lastPercent := -1

	return func(received, total int64) {
		if total > 0 {
			percent := int(received * 100 / total)
			if percent == lastPercent {
				return
			}
			report := func() {
				lastPercent = percent
				log.Info("download progress",
					logger.Int("percent", percent),
					logger.Int64("received_bytes", received),
					logger.Int64("total_bytes", total))
			}
			if received == total {
				report()
				return
			}
			limiter.Do(report)
			return
		}

		limiter.Do(func() {
			log.Info("download progress", logger.Int64("received_bytes", received))
		})
	}
}
