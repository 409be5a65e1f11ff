// Package logger provides logging functionality for the stats agent with an
// in-memory buffer of recent lines for the status endpoint.
package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/op/go-logging"
)

const (
	moduleName    = "marznode-stats"
	maxBufferSize = 256
)

var (
	logger *logging.Logger

	bufferMu  sync.Mutex
	logBuffer []struct {
		time  string
		level logging.Level
		log   string
	}
	subscribers = map[*subscriber]struct{}{}
)

type subscriber struct {
	level logging.Level
	ch    chan string
}

func init() {
	InitLogger(logging.INFO)
}

// InitLogger initializes the logger with the specified logging level.
func InitLogger(level logging.Level) {
	newLogger := logging.MustGetLogger(moduleName)

	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(`%{time:2006/01/02 15:04:05} %{level} - %{message}`)

	backendFormatter := logging.NewBackendFormatter(backend, format)
	backendLeveled := logging.AddModuleLevel(backendFormatter)
	backendLeveled.SetLevel(level, moduleName)
	newLogger.SetBackend(backendLeveled)

	logger = newLogger
}

// ParseLevel converts a textual level to a logging.Level, falling back to INFO.
func ParseLevel(level string) logging.Level {
	l, err := logging.LogLevel(level)
	if err != nil {
		return logging.INFO
	}
	return l
}

// Debug logs a debug message and adds it to the log buffer.
func Debug(args ...any) {
	logger.Debug(args...)
	addToBuffer("DEBUG", fmt.Sprint(args...))
}

// Debugf logs a formatted debug message and adds it to the log buffer.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
	addToBuffer("DEBUG", fmt.Sprintf(format, args...))
}

// Info logs an info message and adds it to the log buffer.
func Info(args ...any) {
	logger.Info(args...)
	addToBuffer("INFO", fmt.Sprint(args...))
}

// Infof logs a formatted info message and adds it to the log buffer.
func Infof(format string, args ...any) {
	logger.Infof(format, args...)
	addToBuffer("INFO", fmt.Sprintf(format, args...))
}

// Notice logs a notice message and adds it to the log buffer.
func Notice(args ...any) {
	logger.Notice(args...)
	addToBuffer("NOTICE", fmt.Sprint(args...))
}

// Noticef logs a formatted notice message and adds it to the log buffer.
func Noticef(format string, args ...any) {
	logger.Noticef(format, args...)
	addToBuffer("NOTICE", fmt.Sprintf(format, args...))
}

// Warning logs a warning message and adds it to the log buffer.
func Warning(args ...any) {
	logger.Warning(args...)
	addToBuffer("WARNING", fmt.Sprint(args...))
}

// Warningf logs a formatted warning message and adds it to the log buffer.
func Warningf(format string, args ...any) {
	logger.Warningf(format, args...)
	addToBuffer("WARNING", fmt.Sprintf(format, args...))
}

// Error logs an error message and adds it to the log buffer.
func Error(args ...any) {
	logger.Error(args...)
	addToBuffer("ERROR", fmt.Sprint(args...))
}

// Errorf logs a formatted error message and adds it to the log buffer.
func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
	addToBuffer("ERROR", fmt.Sprintf(format, args...))
}

func addToBuffer(level string, newLog string) {
	t := time.Now()

	bufferMu.Lock()
	defer bufferMu.Unlock()

	if len(logBuffer) >= maxBufferSize {
		logBuffer = logBuffer[1:]
	}

	logLevel, _ := logging.LogLevel(level)
	entry := struct {
		time  string
		level logging.Level
		log   string
	}{
		time:  t.Format("2006/01/02 15:04:05"),
		level: logLevel,
		log:   newLog,
	}
	logBuffer = append(logBuffer, entry)

	for sub := range subscribers {
		if logLevel > sub.level {
			continue
		}
		select {
		case sub.ch <- formatLine(entry.time, entry.level, entry.log):
		default:
			// slow reader, drop
		}
	}
}

func formatLine(t string, level logging.Level, log string) string {
	return fmt.Sprintf("%s %s - %s", t, level, log)
}

// Subscribe delivers every new buffered line at or above level to the
// returned channel. Lines are dropped while the receiver lags more than size
// lines behind. The returned func ends the subscription and closes the
// channel.
func Subscribe(level string, size int) (<-chan string, func()) {
	logLevel, err := logging.LogLevel(level)
	if err != nil {
		logLevel = logging.INFO
	}
	sub := &subscriber{level: logLevel, ch: make(chan string, size)}

	bufferMu.Lock()
	subscribers[sub] = struct{}{}
	bufferMu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			bufferMu.Lock()
			delete(subscribers, sub)
			close(sub.ch)
			bufferMu.Unlock()
		})
	}
}

// GetLogs returns up to c recent buffered lines at or above the given level,
// newest first.
func GetLogs(c int, level string) []string {
	var output []string
	logLevel, _ := logging.LogLevel(level)

	bufferMu.Lock()
	defer bufferMu.Unlock()

	for i := len(logBuffer) - 1; i >= 0 && len(output) < c; i-- {
		if logBuffer[i].level <= logLevel {
			output = append(output, formatLine(logBuffer[i].time, logBuffer[i].level, logBuffer[i].log))
		}
	}
	return output
}
