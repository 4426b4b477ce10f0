// Package logging builds the single *logrus.Logger every long-lived loop
// in this repository is handed at construction time; nothing here is kept
// as a package-level global.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Config controls how New builds a logger.
type Config struct {
	// Level is one of logrus's level names ("debug", "info", "warn",
	// "error"); empty defaults to "info".
	Level string
	// JSON selects the JSON formatter instead of logrus's default text
	// formatter; useful when the process's stdout is shipped to a log
	// aggregator rather than a terminal.
	JSON bool
	// Output defaults to os.Stderr when nil.
	Output io.Writer
}

// New builds a logger per cfg.
func New(cfg Config) *logrus.Logger {
	log := logrus.New()

	if cfg.Output != nil {
		log.SetOutput(cfg.Output)
	} else {
		log.SetOutput(os.Stderr)
	}

	if cfg.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}
