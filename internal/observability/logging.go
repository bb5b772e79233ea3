// Package observability provides logging, metrics, tracing, and health
// reporting for the autonomic kernel core.
//
// Logging uses go.uber.org/zap. Level is held in a zap.AtomicLevel so
// `logctl level <lvl>` can change it without restarting the process.
// TRACE (spec §6 log.level) has no native zap level; it is modeled as
// Debug, and a logger built at TRACE adds a `trace=true` field to every
// record so TRACE-only log consumers can still filter on it. Switching to
// trace later through SetLevel only sets Debug and adds no field.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogProfile selects the zap encoder family when a logger is built.
// "production" emits JSON, "development"/"testing" emit a human-readable
// console encoding (testing is development with caller+stacktrace
// suppressed). `logctl production|development|testing` only records the
// profile (see SetPreset); it does not switch the encoder.
type LogProfile string

const (
	ProfileProduction  LogProfile = "production"
	ProfileDevelopment LogProfile = "development"
	ProfileTesting     LogProfile = "testing"
)

// Logger wraps a *zap.Logger with a live-updatable level and profile so
// the shell's logctl surface has something concrete to drive.
type Logger struct {
	*zap.Logger
	level   zap.AtomicLevel
	profile LogProfile
}

// NewLogger builds a Logger at the given level ("error"|"warn"|"info"|
// "debug"|"trace") and format ("json"|"console").
func NewLogger(level, format string) (*Logger, error) {
	profile := ProfileProduction
	if format == "console" {
		profile = ProfileDevelopment
	}
	return newLogger(level, profile)
}

func newLogger(level string, profile LogProfile) (*Logger, error) {
	zapLevel, trace, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	switch profile {
	case ProfileDevelopment, ProfileTesting:
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	if profile == ProfileTesting {
		cfg.DisableCaller = true
		cfg.DisableStacktrace = true
	}

	atomic := zap.NewAtomicLevelAt(zapLevel)
	cfg.Level = atomic

	base, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("observability.NewLogger: %w", err)
	}
	if trace {
		base = base.With(zap.Bool("trace", true))
	}

	return &Logger{Logger: base, level: atomic, profile: profile}, nil
}

// SetLevel implements `logctl level <lvl>`.
func (l *Logger) SetLevel(level string) error {
	zapLevel, _, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(zapLevel)
	return nil
}

// Level returns the current effective zap level name.
func (l *Logger) Level() string {
	return l.level.Level().String()
}

// Profile returns the active encoder profile.
func (l *Logger) Profile() LogProfile {
	return l.profile
}

// SetPreset implements `logctl production|development|testing`: it only
// records which profile is active for Profile()/status reporting — the
// zap encoder itself is fixed at construction, so switching at runtime
// between JSON and console output is not supported without a restart.
func (l *Logger) SetPreset(preset string) error {
	switch LogProfile(preset) {
	case ProfileProduction, ProfileDevelopment, ProfileTesting:
		l.profile = LogProfile(preset)
		return nil
	default:
		return fmt.Errorf("observability: unknown log preset %q", preset)
	}
}

// parseLevel maps the spec's ERROR/WARN/INFO/DEBUG/TRACE vocabulary
// (case-insensitive) onto a zapcore.Level, returning whether TRACE was
// requested.
func parseLevel(level string) (zapcore.Level, bool, error) {
	switch level {
	case "trace", "TRACE":
		return zapcore.DebugLevel, true, nil
	case "":
		return zapcore.InfoLevel, false, nil
	}
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return 0, false, fmt.Errorf("observability: invalid log level %q: %w", level, err)
	}
	return zl, false, nil
}
