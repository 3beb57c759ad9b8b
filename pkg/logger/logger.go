// Package logger wraps zap with a key-value API used across the service.
// Components log through *Logger; the underlying *zap.Logger is available
// via Zap() for libraries that want the structured core directly.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the service-wide structured logger
type Logger struct {
	zap     *zap.Logger
	sugared *zap.SugaredLogger
}

// New creates a logger from a level string and environment name.
// Production uses JSON encoding; everything else uses console encoding.
func New(level, environment string) *Logger {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if environment == "production" {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapLevel)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{
		zap:     zapLogger,
		sugared: zapLogger.Sugar(),
	}
}

// NewLogger wraps an existing zap logger. A nil logger falls back to a
// no-op core, which keeps test setup terse.
func NewLogger(zapLogger *zap.Logger, name ...string) *Logger {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	if len(name) > 0 && name[0] != "" {
		zapLogger = zapLogger.Named(name[0])
	}
	return &Logger{
		zap:     zapLogger,
		sugared: zapLogger.Sugar(),
	}
}

// Zap returns the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Named returns a child logger with the given name segment
func (l *Logger) Named(name string) *Logger {
	named := l.zap.Named(name)
	return &Logger{zap: named, sugared: named.Sugar()}
}

// With returns a child logger carrying the given key-value context
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	sugared := l.sugared.With(keysAndValues...)
	return &Logger{zap: sugared.Desugar(), sugared: sugared}
}

// ForRequest returns a request-scoped sugared logger carrying the request id,
// method, and path; handlers and middleware log through it with Infow/Errorw.
func (l *Logger) ForRequest(requestID, method, path string) *zap.SugaredLogger {
	return l.sugared.With(
		"request_id", requestID,
		"method", method,
		"path", path,
	)
}

// Debug logs a message at debug level with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugared.Debugw(msg, keysAndValues...)
}

// Info logs a message at info level with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugared.Infow(msg, keysAndValues...)
}

// Warn logs a message at warn level with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugared.Warnw(msg, keysAndValues...)
}

// Error logs a message at error level with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugared.Errorw(msg, keysAndValues...)
}

// Fatal logs a message at fatal level and exits
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.sugared.Fatalw(msg, keysAndValues...)
}

// Sync flushes buffered log entries
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
