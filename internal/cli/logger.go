package cli

import (
	"go.uber.org/zap"

	"selectcore/internal/core"
)

// zapLogger adapts a zap sugared logger to the core.Logger interface.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a production logger. Verbose enables debug output.
func NewLogger(verbose bool) (core.Logger, func(), error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	sugar := logger.Sugar()
	return zapLogger{sugar: sugar}, func() { _ = logger.Sync() }, nil
}

func (l zapLogger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l zapLogger) Info(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l zapLogger) Warn(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l zapLogger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }
