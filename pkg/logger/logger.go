package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Leveled process-wide logger on top of log/slog.
// Init(level) picks the threshold; LOG_FORMAT=json switches to the JSON handler.

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// slog has no fatal level; keep it above error so it is never filtered.
const slogLevelFatal = slog.Level(12)

var (
	mu      sync.RWMutex
	level   Level = LevelInfo
	handler       = newHandler(os.Stdout, os.Getenv("LOG_FORMAT"))
	logger        = slog.New(handler)
	exit          = os.Exit
)

type levelVar struct{}

func (levelVar) Level() slog.Level {
	mu.RLock()
	defer mu.RUnlock()
	return toSlog(level)
}

func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: levelVar{},
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lv, ok := a.Value.Any().(slog.Level); ok && lv == slogLevelFatal {
					a.Value = slog.StringValue("FATAL")
				}
			}
			return a
		},
	}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SetOutput redirects log output; format is "json" or "text".
func SetOutput(w io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()
	handler = newHandler(w, format)
	logger = slog.New(handler)
}

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Call early during startup. Default level is Info.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		level = LevelDebug
	case "warn", "warning":
		level = LevelWarn
	case "error":
		level = LevelError
	case "fatal":
		level = LevelFatal
	default:
		level = LevelInfo
	}
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelFatal:
		return slogLevelFatal
	}
	return slog.LevelInfo
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func logf(l Level, format string, v ...interface{}) {
	lg := current()
	lv := toSlog(l)
	if !lg.Enabled(context.Background(), lv) {
		return
	}
	lg.Log(context.Background(), lv, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...interface{}) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { logf(LevelError, format, v...) }

func Fatalf(format string, v ...interface{}) {
	current().Log(context.Background(), slogLevelFatal, fmt.Sprintf(format, v...))
	exit(1)
}

// Println kept for brief messages (maps to Info)
func Println(v ...interface{}) {
	logf(LevelInfo, "%s", strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// Debug/Info/Warn/Error helpers that accept a single string
func Debug(v string) { Debugf("%s", v) }
func Info(v string)  { Infof("%s", v) }
func Warn(v string)  { Warnf("%s", v) }
func Error(v string) { Errorf("%s", v) }

// With returns a structured logger carrying the given attributes, for call
// sites that want key/value output (request logging, job runs).
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

// LevelString returns the current level as text.
func LevelString() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "info"
}
