package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Config declares a logger. Level is one of debug|info|warn|error; Format is
// text or json.
type Config struct {
	Level  string `yaml:"level" json:"level" env:"HERALD_LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"HERALD_LOG_FORMAT"`
}

// ParseLevel converts a level name into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		return NewLogger(), nil
	}
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := strings.ToLower(cfg.Format)
	switch format {
	case "", "text", "console":
		format = "text"
	case "json":
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	return NewLogger(WithLevel(lvl), WithFormat(format)), nil
}

// RedirectStdLog routes the standard library logger (used by Pebble and
// Sarama) through l at info level.
func RedirectStdLog(l Logger) func() {
	if zl, ok := l.(*ZapLogger); ok {
		return zap.RedirectStdLog(zl.Zap())
	}
	prev := stdlog.Writer()
	stdlog.SetOutput(writerFunc(func(p []byte) (int, error) {
		l.Info(strings.TrimRight(string(p), "\n"))
		return len(p), nil
	}))
	return func() { stdlog.SetOutput(prev) }
}

// ToStdLogger returns a *log.Logger that writes through l.
func ToStdLogger(l Logger) *stdlog.Logger {
	if zl, ok := l.(*ZapLogger); ok {
		return zap.NewStdLog(zl.Zap())
	}
	return stdlog.New(writerFunc(func(p []byte) (int, error) {
		l.Info(strings.TrimRight(string(p), "\n"))
		return len(p), nil
	}), "", 0)
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func stderr() io.Writer { return os.Stderr }
