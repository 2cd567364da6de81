// Package logging builds the logrus loggers shared by the internal packages.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New returns a text logger without timestamps writing to w.
func New(w io.Writer, level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	log.SetLevel(level)
	return log
}

func Discard() *logrus.Logger {
	return New(io.Discard, logrus.PanicLevel)
}

// OrDiscard returns l, or a logger that drops everything when l is nil.
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l != nil {
		return l
	}
	return Discard()
}
