// Package log wraps zap for ferry's structured JSON logs.
//
// Entries go to stderr, and to a rotating file when Options.File is set.
// Per-call fields are nested under "fields"; fields bound with With sit at
// the top level.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Logger.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// File adds a lumberjack-rotated sink.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Output replaces stderr.
	Output io.Writer
}

// Logger is a leveled JSON logger.
type Logger struct {
	zap *zap.Logger
}

func jsonCore(w io.Writer, level zapcore.LevelEnabler) zapcore.Core {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return zapcore.NewCore(enc, zapcore.AddSync(w), level)
}

// New builds a logger from opts.
func New(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(opts.Level); err != nil {
			return nil, err
		}
	}

	var out io.Writer = os.Stderr
	if opts.Output != nil {
		out = opts.Output
	}
	core := jsonCore(out, level)
	if opts.File != "" {
		core = zapcore.NewTee(core, jsonCore(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}, level))
	}
	return &Logger{zap: zap.New(core)}, nil
}

// NewWithWriter logs everything from debug up to w.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{zap: zap.New(jsonCore(w, zapcore.DebugLevel))}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// With binds fields to every later entry.
func (l *Logger) With(fields map[string]any) *Logger {
	bound := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		bound = append(bound, zap.Any(k, v))
	}
	return &Logger{zap: l.zap.With(bound...)}
}

func (l *Logger) Debug(message string, fields map[string]any) { l.log(zapcore.DebugLevel, message, fields) }
func (l *Logger) Info(message string, fields map[string]any)  { l.log(zapcore.InfoLevel, message, fields) }
func (l *Logger) Warn(message string, fields map[string]any)  { l.log(zapcore.WarnLevel, message, fields) }
func (l *Logger) Error(message string, fields map[string]any) { l.log(zapcore.ErrorLevel, message, fields) }

func (l *Logger) log(level zapcore.Level, message string, fields map[string]any) {
	if ce := l.zap.Check(level, message); ce != nil {
		ce.Write(zap.Any("fields", fields))
	}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
