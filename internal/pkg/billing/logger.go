package billing

import (
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/internal/pkg/config"
)

// Logger writes to the configured billing channel. A disabled logger drops
// every line.
type Logger struct {
	enabled bool
	prefix  string
}

func NewLogger(cfg config.Billing) *Logger {
	channel := cfg.LogChannel
	if channel == "" {
		channel = "billing"
	}
	return &Logger{enabled: cfg.LoggingEnabled, prefix: "[" + channel + "] "}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.enabled {
		return
	}
	log.Debugf(l.prefix+format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil || !l.enabled {
		return
	}
	log.Infof(l.prefix+format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil || !l.enabled {
		return
	}
	log.Warnf(l.prefix+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || !l.enabled {
		return
	}
	log.Errorf(l.prefix+format, args...)
}
