// Package ui provides terminal styling and logger setup for ragchat.
package ui

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// InitLogger initializes the charm logger. Logs go to stderr so streamed answers on
// stdout stay clean.
func InitLogger() {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)
	log.SetReportCaller(false)
	log.SetReportTimestamp(true)
	log.SetTimeFormat(time.Kitchen)
}

// SetDebug enables debug logging.
func SetDebug(enabled bool) {
	if enabled {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
	} else {
		log.SetLevel(log.InfoLevel)
		log.SetReportCaller(false)
	}
}
