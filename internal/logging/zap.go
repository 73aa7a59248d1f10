// Package logging builds the process logger. Logs always go to stderr so
// stdout stays reserved for command output.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Verbose bool
	JSON    bool
	// Level is a zap level name; Verbose forces debug regardless.
	Level string
}

func New(opts Options) (*zap.Logger, error) {
	level, err := resolveLevel(opts)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if !opts.JSON {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = ""
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeCaller = nil
		cfg.Development = false
	}

	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = level > zapcore.DebugLevel

	if opts.JSON {
		cfg.Encoding = "json"
	} else {
		cfg.Encoding = "console"
	}

	return cfg.Build()
}

func resolveLevel(opts Options) (zapcore.Level, error) {
	if opts.Verbose {
		return zapcore.DebugLevel, nil
	}
	if strings.TrimSpace(opts.Level) == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
