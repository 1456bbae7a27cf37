package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildZapLogger returns a structured JSON logger for "json" encoding and a
// colored console logger otherwise.
func buildZapLogger(encoding string, level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	var config zap.Config

	switch encoding {
	case "json":
		config = zap.NewProductionConfig()
		config.EncoderConfig.MessageKey = "message"
		config.EncoderConfig.LevelKey = "severity"
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.NameKey = "logger"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	default:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.Level = atomicLevel

	return config.Build(zap.Fields(zap.String("service", "notifier")))
}
