package helpers

import (
	"io"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogOptions struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string
	JSON  bool
}

// NewLogger builds a logger writing to w. The language server passes
// stderr since stdout carries the protocol.
func NewLogger(w io.Writer, opts LogOptions) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if len(opts.Level) != 0 {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, errors.WithHintf(
				errors.Wrapf(err, "invalid log level %q", opts.Level),
				"use one of debug, info, warn or error",
			)
		}
	}

	var encoder zapcore.Encoder
	if opts.JSON {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	return zap.New(core).Sugar(), nil
}

func NopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
