// Package logger wraps logrus with the small amount of configuration a
// container host needs: level, format, output, plus contextual fields
// for container/match/tick scoping.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps *logrus.Logger so call sites can log through one type
// across the container manager, tick loop, and command pipeline.
type Logger struct {
	*logrus.Logger
}

// Config controls level/format/output. cmd/enginectl fills it directly
// from its log.level and log.format flags.
type Config struct {
	Level  string
	Format string
	Output string
}

// New creates a logger from Config, defaulting to info/text/stdout for
// anything unset or unparseable.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l}
}

// NewDefault creates an info/text/stdout logger, used by anything that
// doesn't have an explicit Config yet (tests, standalone tools).
func NewDefault() *Logger {
	return New(Config{Level: "info", Format: "text", Output: "stdout"})
}

// ForContainer returns a child entry scoped to one container, the field
// set every container-manager log line carries.
func (l *Logger) ForContainer(containerID string) *logrus.Entry {
	return l.WithField("container_id", containerID)
}

// ForMatch returns a child entry additionally scoped to one match.
func ForMatch(entry *logrus.Entry, matchID string) *logrus.Entry {
	return entry.WithField("match_id", matchID)
}

// ForTick returns a child entry additionally scoped to one tick number.
func ForTick(entry *logrus.Entry, tick uint64) *logrus.Entry {
	return entry.WithField("tick", tick)
}
