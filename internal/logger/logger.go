package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"plantdisease/internal/config"
)

// Logger provides leveled logging (info/warning/error) to stdout/stderr and,
// when a log directory is configured, to one file per level.
type Logger struct {
	sugar  *zap.SugaredLogger
	logDir string
	files  []*os.File
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	lowLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		if cfg.Debug {
			return level < zapcore.WarnLevel
		}
		return level == zapcore.InfoLevel
	})
	highLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	if cfg.Debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	console := zapcore.NewConsoleEncoder(encoderConfig)

	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(os.Stdout), lowLevel),
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), highLevel),
	}

	l := &Logger{logDir: cfg.LogDirectory}

	if cfg.LogDirectory != "" {
		if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		levels := []struct {
			file    string
			enabled zapcore.LevelEnabler
		}{
			{"info.log", zap.LevelEnablerFunc(func(level zapcore.Level) bool { return level == zapcore.InfoLevel })},
			{"warning.log", zap.LevelEnablerFunc(func(level zapcore.Level) bool { return level == zapcore.WarnLevel })},
			{"error.log", zap.LevelEnablerFunc(func(level zapcore.Level) bool { return level >= zapcore.ErrorLevel })},
		}
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

		for _, lv := range levels {
			file, err := l.openLogFile(lv.file)
			if err != nil {
				l.Close()
				return nil, err
			}
			cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(file), lv.enabled))
		}
	}

	l.sugar = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return l, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// openLogFile opens or creates a log file for appending.
func (l *Logger) openLogFile(name string) (*os.File, error) {
	path := filepath.Join(l.logDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	l.files = append(l.files, file)
	return file, nil
}

// Debug writes a formatted debug-level log entry. Only emitted with DEBUG=true.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Close flushes buffered entries and closes the log files.
func (l *Logger) Close() {
	if l.sugar != nil {
		_ = l.sugar.Sync()
	}
	for _, f := range l.files {
		f.Close()
	}
	l.files = nil
}
