package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level orders log severities; messages below the logger's level are dropped.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides leveled, printf-style logging throughout the service.
type Logger struct {
	level Level
	out   *log.Logger
	err   *log.Logger
}

// New creates a Logger writing info and below to stdout, warnings and
// errors to stderr.
func New(level Level) *Logger {
	return &Logger{
		level: level,
		out:   log.New(os.Stdout, "", 0),
		err:   log.New(os.Stderr, "", 0),
	}
}

// NewWriter sends every level to w. Tests pass io.Discard or a buffer.
func NewWriter(w io.Writer, level Level) *Logger {
	l := log.New(w, "", 0)
	return &Logger{level: level, out: l, err: l}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return NewWriter(io.Discard, LevelError+1)
}

func (l *Logger) printf(lvl Level, tag, format string, args ...any) {
	if l == nil || lvl < l.level {
		return
	}
	dst := l.out
	if lvl >= LevelWarn {
		dst = l.err
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	dst.Printf("[%s] %-5s %s", ts, tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Trace(format string, args ...any) {
	l.printf(LevelTrace, "TRACE", format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.printf(LevelDebug, "DEBUG", format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.printf(LevelInfo, "INFO", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.printf(LevelWarn, "WARN", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.printf(LevelError, "ERROR", format, args...)
}
