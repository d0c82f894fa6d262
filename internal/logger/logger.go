// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps the standard log package for text output and emits one JSON object
// per line when the json format is selected.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

// Logger provides leveled logging
type Logger struct {
	mu     sync.Mutex
	level  Level
	json   bool
	out    io.Writer
	logger *log.Logger
}

// jsonEntry is one line of json-format output.
type jsonEntry struct {
	Time   string `json:"ts"`
	Level  string `json:"level"`
	Msg    string `json:"msg"`
	Caller string `json:"caller,omitempty"`
}

var (
	// Global logger instance
	defaultLogger *Logger
)

// ParseLevel maps a level name to a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	defaultLogger = newLogger(os.Stderr, ParseLevel(level), strings.ToLower(format) == "json")
}

func newLogger(out io.Writer, level Level, asJSON bool) *Logger {
	return &Logger{
		level:  level,
		json:   asJSON,
		out:    out,
		logger: log.New(out, "", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
	}
}

// SetOutput redirects the default logger, initializing it at info level if needed.
func SetOutput(w io.Writer) {
	if defaultLogger == nil {
		defaultLogger = newLogger(w, InfoLevel, false)
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.out = w
	defaultLogger.logger.SetOutput(w)
}

// output writes msg if the level is enabled. calldepth counts frames above output.
func output(level Level, calldepth int, format string, args ...interface{}) {
	l := defaultLogger
	if l == nil || l.level > level {
		return
	}
	msg := fmt.Sprintf(format, args...)

	if !l.json {
		_ = l.logger.Output(calldepth+1, "["+levelNames[level]+"] "+msg)
		return
	}

	entry := jsonEntry{
		Time:  time.Now().UTC().Format(time.RFC3339Nano),
		Level: strings.ToLower(levelNames[level]),
		Msg:   msg,
	}
	if _, file, line, ok := runtime.Caller(calldepth); ok {
		entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	output(DebugLevel, 2, format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	output(InfoLevel, 2, format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	output(WarnLevel, 2, format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	output(ErrorLevel, 2, format, args...)
}

// Fatal logs a message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		output(ErrorLevel, 2, "[FATAL] "+format, args...)
	} else {
		log.Printf("[FATAL] "+format, args...)
	}
	os.Exit(1)
}
