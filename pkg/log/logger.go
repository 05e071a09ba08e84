package log

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func fromZapLevel(l zapcore.Level) Level {
	switch l {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	case zapcore.FatalLevel, zapcore.PanicLevel, zapcore.DPanicLevel:
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Fields is a map of field names to values.
type Fields map[string]interface{}

// Context keys attached by WithContext
const (
	TraceIDKey   = "trace_id"
	SpanIDKey    = "span_id"
	ComponentKey = "component"
)

// Logger defines the core logging interface for herald components.
type Logger interface {
	// Standard logging methods with structured context
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// Printf-style variants
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
	Fatalf(msg string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	// With adds multiple fields to the logger
	With(fields ...Field) Logger

	// WithContext attaches the trace and span ids of the active span, if any.
	WithContext(ctx context.Context) Logger

	// WithComponent tags logs with a component name
	WithComponent(component string) Logger

	// SetLevel sets the minimum log level
	SetLevel(level Level)

	// GetLevel returns the current minimum log level
	GetLevel() Level
}

// LoggerOption is a function that configures a logger.
type LoggerOption func(*options)

type options struct {
	level  Level
	format string
	sink   zapcore.WriteSyncer
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(o *options) { o.level = level }
}

// WithFormat selects the encoder: "json" or "text".
func WithFormat(format string) LoggerOption {
	return func(o *options) { o.format = format }
}

// WithOutput directs log output to w instead of stderr.
func WithOutput(w zapcore.WriteSyncer) LoggerOption {
	return func(o *options) { o.sink = w }
}

// ZapLogger implements Logger on top of a zap core.
type ZapLogger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// NewLogger creates a new logger with the given options.
func NewLogger(opts ...LoggerOption) Logger {
	o := options{level: InfoLevel, format: "text"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sink == nil {
		o.sink = zapcore.Lock(zapcore.AddSync(stderr()))
	}
	level := zap.NewAtomicLevelAt(o.level.zap())

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if o.format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, o.sink, level)
	return &ZapLogger{z: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), level: level}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return &ZapLogger{z: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) Logger {
	return &ZapLogger{z: z.WithOptions(zap.AddCallerSkip(1)), level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// Zap exposes the underlying zap logger for libraries that accept one.
func (l *ZapLogger) Zap() *zap.Logger { return l.z.WithOptions(zap.AddCallerSkip(-1)) }

func (l *ZapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZap(fields)...) }
func (l *ZapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZap(fields)...) }
func (l *ZapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZap(fields)...) }
func (l *ZapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZap(fields)...) }
func (l *ZapLogger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, toZap(fields)...) }

func (l *ZapLogger) Debugf(msg string, args ...interface{}) { l.z.Debug(fmt.Sprintf(msg, args...)) }
func (l *ZapLogger) Infof(msg string, args ...interface{})  { l.z.Info(fmt.Sprintf(msg, args...)) }
func (l *ZapLogger) Warnf(msg string, args ...interface{})  { l.z.Warn(fmt.Sprintf(msg, args...)) }
func (l *ZapLogger) Errorf(msg string, args ...interface{}) { l.z.Error(fmt.Sprintf(msg, args...)) }
func (l *ZapLogger) Fatalf(msg string, args ...interface{}) { l.z.Fatal(fmt.Sprintf(msg, args...)) }

func (l *ZapLogger) WithField(key string, value interface{}) Logger {
	return l.With(Any(key, value))
}

func (l *ZapLogger) WithFields(fields Fields) Logger {
	fs := make([]Field, 0, len(fields))
	for k, v := range fields {
		fs = append(fs, Any(k, v))
	}
	return l.With(fs...)
}

func (l *ZapLogger) WithError(err error) Logger {
	return l.With(Err(err))
}

func (l *ZapLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &ZapLogger{z: l.z.With(toZap(fields)...), level: l.level}
}

func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l
	}
	return l.With(Str(TraceIDKey, sc.TraceID().String()), Str(SpanIDKey, sc.SpanID().String()))
}

func (l *ZapLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *ZapLogger) SetLevel(level Level) { l.level.SetLevel(level.zap()) }

func (l *ZapLogger) GetLevel() Level { return fromZapLevel(l.level.Level()) }
