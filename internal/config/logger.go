package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes JSON log lines to ~/.local/share/soundgrab/soundgrab.log
// (rotated) and human-readable lines to stderr.
type Logger struct {
	*zap.Logger
	rotator *lumberjack.Logger
}

// logFilePath returns the path to the soundgrab log file.
func logFilePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "soundgrab.log"), nil
}

// LogPath returns the log file path, or "" if the data dir is unavailable.
func LogPath() string {
	p, err := logFilePath()
	if err != nil {
		return ""
	}
	return p
}

// NewLogger creates a logger that tees to the rotated log file and stderr.
// If the data dir cannot be created, only stderr is used.
func NewLogger(debug bool) *Logger {
	consoleLevel := zap.InfoLevel
	if debug {
		consoleLevel = zap.DebugLevel
	}
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stderr),
		consoleLevel,
	)

	l := &Logger{}
	cores := []zapcore.Core{consoleCore}

	if p, err := logFilePath(); err == nil {
		l.rotator = &lumberjack.Logger{
			Filename:   p,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(enc),
			zapcore.AddSync(l.rotator),
			zap.InfoLevel,
		))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return l
}

// Printf writes an info line using printf-style formatting.
func (l *Logger) Printf(format string, args ...any) {
	l.Logger.Info(fmt.Sprintf(format, args...))
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() {
	_ = l.Logger.Sync()
	if l.rotator != nil {
		l.rotator.Close()
	}
}
