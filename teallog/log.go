// Package teallog is a thin leveled wrapper around the standard library's
// log package, used for controller and machine lifecycle events. The
// teacher and the rest of the example pack use log.Logger directly with
// no third-party logging dependency, so this wrapper follows suit rather
// than introducing one (see DESIGN.md).
package teallog

import (
	"fmt"
	"io"
	"log"
	"os"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger writes leveled lines to an underlying *log.Logger, filtering out
// anything below Threshold.
type Logger struct {
	out       *log.Logger
	Threshold Level
}

// New builds a Logger writing to w (stderr by default via NewDefault).
func New(w io.Writer, threshold Level) *Logger {
	return &Logger{out: log.New(w, "", log.LstdFlags), Threshold: threshold}
}

// NewDefault builds a Logger writing to stderr at LevelInfo.
func NewDefault() *Logger {
	return New(os.Stderr, LevelInfo)
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if l == nil || l.out == nil || level < l.Threshold {
		return
	}
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }
