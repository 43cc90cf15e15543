// Package zaplog backs the glog logging contracts with a zap sugared logger.
package zaplog

import (
	"context"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	sugar *zap.SugaredLogger
}

// New wraps sugar; a nil logger writes nothing.
func New(sugar *zap.SugaredLogger) *Logger {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	return &Logger{sugar: sugar}
}

// NewProduction builds a JSON logger at the given level ("debug", "info", ...).
func NewProduction(level string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	parsed, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.DisableStacktrace = true
	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return New(base.Sugar()), nil
}

func (l *Logger) Trace(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) { l.sugar.Fatalw(msg, args...) }

func (l *Logger) WithContext(context.Context) glog.Logger {
	return l
}

// WithFields returns a child logger carrying fields in key order.
func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return &Logger{sugar: l.sugar.With(args...)}
}

// Named returns a child logger scoped to name.
func (l *Logger) Named(name string) *Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &Logger{sugar: l.sugar.Named(name)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Provider hands out named children of one root logger.
type Provider struct {
	root *Logger
}

func NewProvider(root *Logger) *Provider {
	if root == nil {
		root = New(nil)
	}
	return &Provider{root: root}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	return p.root.Named(name)
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
