// Package logger provides the leveled printf-style logging used across
// the storage layer. Components log through a scoped Logger carrying
// their name, so one line identifies level, time and origin.
package logger

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu           sync.Mutex
	currentLevel = LevelInfo
	sink         = stdlog.New(os.Stdout, "", 0)
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

// SetLevel sets the global threshold. Unknown names are ignored.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// SetOutput redirects all loggers to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	sink = stdlog.New(w, "", 0)
}

// Logger is a named logger. The zero value logs without a scope.
type Logger struct {
	scope string
}

// Scope returns a logger that prefixes every line with the component
// name.
func Scope(name string) *Logger {
	return &Logger{scope: name}
}

func (l *Logger) log(level Level, format string, v ...any) {
	mu.Lock()
	threshold, out := currentLevel, sink
	mu.Unlock()
	if level < threshold {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("[%s] [%s] ", timestamp, level.String())
	if l != nil && l.scope != "" {
		prefix += fmt.Sprintf("[%s] ", l.scope)
	}
	out.Println(prefix + fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(format string, v ...any) { l.log(LevelDebug, format, v...) }
func (l *Logger) Info(format string, v ...any)  { l.log(LevelInfo, format, v...) }
func (l *Logger) Warn(format string, v ...any)  { l.log(LevelWarn, format, v...) }
func (l *Logger) Error(format string, v ...any) { l.log(LevelError, format, v...) }

var root = &Logger{}

func Debug(format string, v ...any) { root.log(LevelDebug, format, v...) }
func Info(format string, v ...any)  { root.log(LevelInfo, format, v...) }
func Warn(format string, v ...any)  { root.log(LevelWarn, format, v...) }
func Error(format string, v ...any) { root.log(LevelError, format, v...) }
