package dbg

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ModeDev  = "dev"
	ModeProd = "prod"
)

// NewLogger builds the console logger for dev mode and the JSON logger for anything else.
func NewLogger(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	if mode == ModeDev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableCaller = true

	return cfg.Build()
}

func MustNewLogger(mode string) *zap.Logger {
	logger, err := NewLogger(mode)
	if err != nil {
		panic(err)
	}
	return logger
}
