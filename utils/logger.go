package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// LogLevel represents the severity of log messages
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

var (
	loggers  [4]*log.Logger
	logFile  *os.File
	maxLevel = LogLevelInfo
)

// InitLogger initializes the logging system with a dated file under logDir.
// Errors mirror to stderr and warnings to stdout; info and debug stay in the
// file only.
func InitLogger(logDir string, level LogLevel) error {
	maxLevel = level

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("chord-%s.log", time.Now().Format("2006-01-02")))

	var err error
	logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	flags := log.Ldate | log.Ltime | log.Lshortfile
	loggers[LogLevelError] = log.New(io.MultiWriter(logFile, os.Stderr), "[ERROR] ", flags)
	loggers[LogLevelWarn] = log.New(io.MultiWriter(logFile, os.Stdout), "[WARN]  ", flags)
	loggers[LogLevelInfo] = log.New(logFile, "[INFO]  ", flags)
	loggers[LogLevelDebug] = log.New(logFile, "[DEBUG] ", flags)

	LogInfo("Logger initialized - level=%s file=%s", level, logPath)
	return nil
}

// CloseLogger closes the log file
func CloseLogger() {
	if logFile != nil {
		logFile.Close()
	}
}

func emit(level LogLevel, format string, args []interface{}) {
	if level > maxLevel && level != LogLevelError {
		return
	}
	if l := loggers[level]; l != nil {
		l.Output(3, fmt.Sprintf(format, args...))
	}
}

// LogError logs error messages (always visible)
func LogError(format string, args ...interface{}) {
	emit(LogLevelError, format, args)
}

// LogWarn logs warning messages
func LogWarn(format string, args ...interface{}) {
	emit(LogLevelWarn, format, args)
}

// LogInfo logs info messages
func LogInfo(format string, args ...interface{}) {
	emit(LogLevelInfo, format, args)
}

// LogDebug logs debug messages
func LogDebug(format string, args ...interface{}) {
	emit(LogLevelDebug, format, args)
}

// GetLogLevelFromString converts string to LogLevel
func GetLogLevelFromString(level string) LogLevel {
	switch level {
	case "error":
		return LogLevelError
	case "warn":
		return LogLevelWarn
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}
