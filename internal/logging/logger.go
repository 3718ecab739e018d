// Package logging builds the archiver's zap loggers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to stderr so stdout stays free for record
// announcements. Development mode uses the colored console encoder,
// otherwise JSON. Verbose runs narrate every page and id at debug level;
// quiet runs only report errors that abort the run.
func New(development, verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	mode := "production"
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		mode = "development"
	}
	cfg.Level = zap.NewAtomicLevelAt(Level(verbose))
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", mode, err)
	}
	return logger, nil
}

// Level maps the verbose toggle onto a zap level.
func Level(verbose bool) zapcore.Level {
	if verbose {
		return zapcore.DebugLevel
	}
	return zapcore.ErrorLevel
}
