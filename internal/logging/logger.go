package logging

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the process-wide logger.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // console | json | auto
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	globalLogger atomic.Pointer[zap.Logger]
	generation   atomic.Uint64
	once         sync.Once
)

// Initialize builds the global zap logger: a console core on stdout, plus a
// rotated JSON file core when cfg.File is set. Only the first call has effect.
func Initialize(cfg Config) {
	InitializeWith(cfg, zapcore.Lock(os.Stdout))
}

// InitializeWith is Initialize with an explicit console writer.
func InitializeWith(cfg Config, console zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		format := cfg.Format
		if format == "" || format == "auto" {
			format = "json"
			if term.IsTerminal(int(os.Stdout.Fd())) {
				format = "console"
			}
		}

		cores := []zapcore.Core{zapcore.NewCore(encoder(format), console, level)}
		if cfg.File != "" {
			file := zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			})
			cores = append(cores, zapcore.NewCore(encoder("json"), file, level))
		}

		logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)).Named("aimloop")
		Replace(logger)
		zap.RedirectStdLog(logger)
	})
}

// Replace swaps the global logger. Component loggers pick it up on their next call.
func Replace(logger *zap.Logger) {
	globalLogger.Store(logger)
	zap.ReplaceGlobals(logger)
	generation.Add(1)
}

// ResetForTest clears the global logger and allows Initialize to run again.
func ResetForTest() {
	globalLogger.Store(nil)
	generation.Add(1)
	once = sync.Once{}
}

// Sync flushes buffered log entries.
func Sync() {
	if l := globalLogger.Load(); l != nil {
		_ = l.Sync()
	}
}

// L returns the global logger, or a development logger before Initialize.
func L() *zap.Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l.Named("fallback")
}

func encoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	if format == "console" {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// Logger is a component-scoped logger. The zero value is not usable; use NewLogger.
type Logger struct {
	component string
	fixed     *zap.Logger

	mu    sync.Mutex
	gen   uint64
	cache *zap.Logger
}

// NewLogger creates a logger for a component, backed by the global zap logger.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// NewWithZap creates a component logger on an explicit zap logger (tests, embedding).
func NewWithZap(component string, z *zap.Logger) *Logger {
	return &Logger{component: component, fixed: z.Named(component)}
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	if l.fixed != nil {
		return l.fixed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if g := generation.Load(); l.cache == nil || l.gen != g {
		l.cache = L().Named(l.component)
		l.gen = g
	}
	return l.cache
}

func fields(err error, context map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(context)+1)
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for k, v := range context {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (l *Logger) Debug(message string) { l.Zap().Debug(message) }

func (l *Logger) DebugWithContext(message string, context map[string]interface{}) {
	l.Zap().Debug(message, fields(nil, context)...)
}

func (l *Logger) Info(message string) { l.Zap().Info(message) }

func (l *Logger) InfoWithContext(message string, context map[string]interface{}) {
	l.Zap().Info(message, fields(nil, context)...)
}

func (l *Logger) Warn(message string) { l.Zap().Warn(message) }

func (l *Logger) WarnWithContext(message string, context map[string]interface{}) {
	l.Zap().Warn(message, fields(nil, context)...)
}

// Error logs at error level; err may be nil.
func (l *Logger) Error(message string, err error) {
	l.Zap().Error(message, fields(err, nil)...)
}

func (l *Logger) ErrorWithContext(message string, err error, context map[string]interface{}) {
	l.Zap().Error(message, fields(err, context)...)
}

// WithContext returns a logger that adds context to every entry.
func (l *Logger) WithContext(context map[string]interface{}) *ContextLogger {
	return &ContextLogger{logger: l, fields: fields(nil, context)}
}

// ContextLogger is a logger with pre-set context.
type ContextLogger struct {
	logger *Logger
	fields []zap.Field
}

func (cl *ContextLogger) Debug(message string) { cl.logger.Zap().Debug(message, cl.fields...) }
func (cl *ContextLogger) Info(message string)  { cl.logger.Zap().Info(message, cl.fields...) }
func (cl *ContextLogger) Warn(message string)  { cl.logger.Zap().Warn(message, cl.fields...) }

func (cl *ContextLogger) Error(message string, err error) {
	cl.logger.Zap().Error(message, append(fields(err, nil), cl.fields...)...)
}
