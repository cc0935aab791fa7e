package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerOptions configures the process logger.
type LoggerOptions struct {
	// Level is the minimum level: debug, info, warn or error.
	Level           string
	Output          io.Writer
	Prefix          string
	TimeFormat      string
	ReportTimestamp bool
}

func DefaultLoggerOptions() LoggerOptions {
	return LoggerOptions{
		Level:           "info",
		Output:          os.Stderr,
		TimeFormat:      time.TimeOnly,
		ReportTimestamp: true,
	}
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewLogger builds the logger every run derives its own from. CLAIMER_LOG_LEVEL
// overrides the level.
func NewLogger(opts LoggerOptions) *log.Logger {
	if level := os.Getenv("CLAIMER_LOG_LEVEL"); level != "" {
		opts.Level = level
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	return log.NewWithOptions(opts.Output, log.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		TimeFormat:      opts.TimeFormat,
		ReportTimestamp: opts.ReportTimestamp,
	})
}
