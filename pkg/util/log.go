package util

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func level(verbose bool) zapcore.Level {
	if verbose {
		return zap.DebugLevel
	}
	return zap.InfoLevel
}

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	return enc
}

// NewLogger builds a JSON logger on stdout. Verbose enables debug output,
// which includes the rendered FIX text of every message.
func NewLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level(verbose))
	cfg.EncoderConfig = encoderConfig()
	return cfg.Build()
}

// NewLoggerWithFile creates a logger that writes to both console and a file
func NewLoggerWithFile(logPath string, verbose bool) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	lvl := level(verbose)
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(os.Stdout), lvl),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(file), lvl),
	)
	return zap.New(core), nil
}
