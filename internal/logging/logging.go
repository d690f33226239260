// Package logging builds the process-wide zap logger. Console output goes
// to stderr so tables and summaries on stdout stay machine-consumable;
// an optional log file receives the same entries JSON-encoded.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options control logger construction.
type Options struct {
	Verbose bool   // lower the console level to Debug
	LogFile string // optional path for a JSON log file; empty disables
}

// New constructs the logger. The returned close function flushes and
// releases the log file, if one was opened.
func New(opts Options) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEnc := zapcore.NewConsoleEncoder(encCfg)
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	closer := func() {}
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening log file %s: %w", opts.LogFile, err)
		}
		fileEnc := zapcore.NewJSONEncoder(encCfg)
		// The file always records Debug so a quiet console run still
		// leaves a complete trail for post-mortems.
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.Lock(f), zapcore.DebugLevel))
		closer = func() { _ = f.Close() }
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return logger, func() {
		_ = logger.Sync()
		closer()
	}, nil
}
