// Package logger provides the structured logger shared by MeshForge components.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger with the name of the component that owns it.
type Logger struct {
	*logrus.Logger
	name string
}

// Config configures a Logger.
type Config struct {
	Name   string
	Level  string // debug, info, warn, error
	Format string // text or json
	Output io.Writer
}

// New creates a logger from the given configuration.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stderr)
	}

	return &Logger{Logger: l, name: cfg.Name}
}

// NewDefault creates an info-level text logger for the named component.
func NewDefault(name string) *Logger {
	return New(Config{Name: name})
}

// NewDiscard creates a logger that drops everything. Used by tests.
func NewDiscard(name string) *Logger {
	return New(Config{Name: name, Output: io.Discard})
}

// Name returns the component name.
func (l *Logger) Name() string {
	return l.name
}

// Component returns an entry tagged with the component name.
func (l *Logger) Component() *logrus.Entry {
	return l.WithField("component", l.name)
}

// Named derives a logger for a sub-component that shares output, level and formatter.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger, name: name}
}
