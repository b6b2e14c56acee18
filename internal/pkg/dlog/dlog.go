// Package dlog provides the leveled logging used throughout streamfs. It
// mirrors the call-site shape of the teacher's own logging package
// (Debugf/Infof/Warningf/Errorf/Fatalf with a settable level) while
// delegating formatting and output to logrus.
package dlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level controls verbosity, lowest to highest.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var (
	mu      sync.RWMutex
	level   = LevelInfo
	backend = newBackend()
)

func newBackend() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.DebugLevel)
	return l
}

// SetLevel adjusts the minimum level that will be emitted.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

func enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l <= level
}

func Debugf(format string, args ...interface{}) {
	if enabled(LevelDebug) {
		backend.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(LevelInfo) {
		backend.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if enabled(LevelWarn) {
		backend.Warnf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(LevelError) {
		backend.Errorf(format, args...)
	}
}

// Fatalf logs at fatal level and terminates the process, matching the
// teacher's sylog.Fatalf used at unrecoverable configuration errors.
func Fatalf(format string, args ...interface{}) {
	backend.Fatalf(format, args...)
}
