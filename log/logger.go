package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a small leveled logger. Sub-systems derive named children with
// Named; all children share one writer.
type Logger struct {
	mu     *sync.Mutex
	writer io.Writer

	Name       string
	Level      LogLevel
	TimeFormat string
}

// Rotation configures size-based rotation of the log file.
type Rotation struct {
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// New creates a logger writing to stdout.
func New(name string, level LogLevel) *Logger {
	return &Logger{
		mu:         &sync.Mutex{},
		writer:     os.Stdout,
		Name:       name,
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
	}
}

// NewFile creates a logger writing to a rotated file and, unless quiet is
// set, stdout.
func NewFile(name string, level LogLevel, file string, rotation Rotation, quiet bool) *Logger {
	fileWriter := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    rotation.MaxSize,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAge,
		Compress:   rotation.Compress,
	}

	var writer io.Writer = fileWriter
	if !quiet {
		writer = io.MultiWriter(os.Stdout, fileWriter)
	}

	logger := New(name, level)
	logger.writer = writer
	return logger
}

// NewDiscard creates a logger that drops everything. Default for embedders
// and tests that did not ask for logging.
func NewDiscard() *Logger {
	logger := New("", Error+1)
	logger.writer = io.Discard
	return logger
}

// Named derives a child logger sharing the parent's writer and level.
func (l *Logger) Named(name string) *Logger {
	child := *l
	if l.Name != "" {
		child.Name = fmt.Sprintf("%s/%s", l.Name, name)
	} else {
		child.Name = name
	}
	return &child
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if level < l.Level {
		return
	}

	prefix := fmt.Sprintf("[%s] %-5s", time.Now().Format(l.TimeFormat), level)
	if l.Name != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, l.Name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "%s %s\n", prefix, fmt.Sprintf(msg, args...))
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(Debug, msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(Info, msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(Warn, msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(Error, msg, args...)
}
