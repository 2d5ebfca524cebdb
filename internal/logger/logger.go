// Package logger holds the process-wide logrus instance. Init must be called
// once from main before any component logs.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

// Init configures level and format from LOG_LEVEL / LOG_FORMAT.
func Init() {
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	Log.SetOutput(os.Stdout)
}

// Component returns a logger tagged with a component field, the convention
// used across the perception pipeline.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
