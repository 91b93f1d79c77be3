// Package logging provides structured logging using uber/zap.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a logger for the given level and mode. Production mode
// emits JSON; development mode emits colored console output.
func New(level string, development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// NewDefault returns an info-level production logger, falling back to a
// no-op logger if construction fails.
func NewDefault() *zap.Logger {
	logger, err := New("info", false)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
