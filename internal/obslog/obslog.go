// Package obslog carries a structured logger through request-scoped
// contexts, the way passage's internal log package threads a
// logrus.FieldLogger through its tunnel and API handlers.
package obslog

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type contextKey struct{}

var loggerKey = contextKey{}

// New builds a logrus.Logger writing structured text to stdout at the
// given level ("debug"/"info"/"warn"/"error"; defaults to info).
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, entry logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, loggerKey, entry)
}

// FromContext returns the logger carried by ctx, or the standard logger's
// entry if none was attached.
func FromContext(ctx context.Context) logrus.FieldLogger {
	if entry, ok := ctx.Value(loggerKey).(logrus.FieldLogger); ok {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Request logs one relayed HTTP exchange with method/path/status/duration
// fields, matching the shape passage's log.Request helper establishes for
// its own proxied operations.
func Request(log logrus.FieldLogger, event string, fields logrus.Fields, err error) {
	entry := log.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
		entry.Warn(event)
		return
	}
	entry.Info(event)
}
