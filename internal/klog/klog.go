// Package klog builds the zap logger shared by the kernel, the simulated
// machine and the command line.
package klog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// atomicLevel is the level of the last logger built.
var atomicLevel = zap.NewAtomicLevel()

// Build sets up a logger writing info and below to stdout and errors to
// stderr. encoding is "console" or "json".
func Build(level, encoding string) (*zap.Logger, error) {
	return BuildTo(level, encoding, zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr))
}

// BuildTo is Build with explicit sinks.
func BuildTo(level, encoding string, out, errOut zapcore.WriteSyncer) (*zap.Logger, error) {
	l, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	atomicLevel.SetLevel(l.Level())

	cfg := encoderConfig()
	var encoder zapcore.Encoder
	switch encoding {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(cfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(cfg)
	default:
		return nil, fmt.Errorf("unknown log encoding %q", encoding)
	}

	// Level filters
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return atomicLevel.Enabled(lvl) && lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return atomicLevel.Enabled(lvl) && lvl < zapcore.ErrorLevel
	})

	infoCore := zapcore.NewCore(encoder, out, lowPriority)
	errorCore := zapcore.NewCore(encoder, errOut, highPriority)

	return zap.New(zapcore.NewTee(infoCore, errorCore), zap.AddCaller()), nil
}

// SetLevel changes the logger level dynamically.
func SetLevel(level string) error {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	atomicLevel.SetLevel(l)
	return nil
}

// Level returns the current level.
func Level() zapcore.Level {
	return atomicLevel.Level()
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeName = func(s string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString("[" + s + "]")
	}
	return cfg
}
