package shared

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const messageKey = "message"

// NewLogger returns a JSON zap logger named after the service. When cfg.File
// is set, entries are also written to a size-rotated file.
func NewLogger(name string, cfg LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.MessageKey = messageKey
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  max(cfg.MaxSizeMB, 1),
			MaxAge:   cfg.MaxAgeDays,
			Compress: true,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Named(name), nil
}

// Component tags a logger with the component name used across services.
func Component(log *zap.Logger, name string) *zap.Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return log.With(zap.String("component", name))
}
