// Package logging builds the zap logger shared by every component of a run.
package logging

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger for the given level ("debug", "info", "warn",
// "error") and format ("json" or "console"). verbose forces debug level.
// When dir is not empty the log is also written to dir/run.log.
func New(level, format string, verbose bool, dir string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format != "json" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	cfg.OutputPaths = []string{"stderr"}

	var opts []zap.Option
	if dir != "" {
		file, err := fileCore(cfg, filepath.Join(dir, "run.log"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, file)
		}))
	}

	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// fileCore writes the entries of cfg to path without color escapes.
func fileCore(cfg zap.Config, path string) (zapcore.Core, error) {
	sink, _, err := zap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	encCfg := cfg.EncoderConfig
	if cfg.Encoding == "json" {
		return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, cfg.Level), nil
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)
	return zapcore.NewCore(enc, sink, cfg.Level), nil
}
