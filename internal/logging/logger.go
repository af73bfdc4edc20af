// Package logging builds the service's root zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RootName names the root logger; components append their own segment with
// Named.
const RootName = "proxyfetch"

// Config selects the encoder and the minimum level.
type Config struct {
	Development bool
	// Level is a zap level name ("debug", "info", "warn", "error"). Empty
	// means debug in development and info otherwise.
	Level string
}

// ParseLevel resolves a level name, applying the mode default when name is
// empty.
func ParseLevel(name string, development bool) (zapcore.Level, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if development {
			return zapcore.DebugLevel, nil
		}
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return level, fmt.Errorf("parse log level %q: %w", name, err)
	}
	return level, nil
}

// New builds the root logger: colour console output in development, JSON with
// sampling in production.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level, cfg.Development)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.DisableStacktrace = false
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.NameKey = "logger"

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named(RootName), nil
}
