// Package logging provides categorized logging for mkrk.
// Each subsystem logs under its own category; output goes to stderr so it
// never mixes with command output. Verbosity is controlled by the config
// file or the MKRK_LOG environment variable and defaults to warnings only.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup, context discovery
	CategoryStore     Category = "store"     // project/workspace store operations
	CategoryIntegrity Category = "integrity" // hashing, immutable flags, verify
	CategoryRefs      Category = "refs"      // reference parsing and resolution
	CategoryPipeline  Category = "pipeline"  // sign lifecycle, state derivation
	CategoryRules     Category = "rules"     // rule dispatch and cascades
	CategoryTools     Category = "tools"     // tool resolution and execution
	CategoryWatch     Category = "watch"     // filesystem watcher
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize configures the process-wide logger. level is one of
// debug, info, warn, error; MKRK_LOG overrides it when set.
// Safe to call more than once; the last call wins.
func Initialize(level string) error {
	if env := os.Getenv("MKRK_LOG"); env != "" {
		level = env
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// Get returns the logger for a category, creating it on first use.
// Usable before Initialize; falls back to a warn-level stderr logger.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	if root == nil {
		root = defaultLogger()
	}
	l := root.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

func defaultLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Sync flushes buffered log entries. Called once on process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
