// Copyright (c) OpenMMLab. All rights reserved.

// Package logger builds the process-wide zap logger. The training child owns
// stdout, so launcher logs go to stderr, optionally duplicated to a file named
// by VARUNA_LOG_FILE.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger

// init Logger
func init() {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if logFile := os.Getenv("VARUNA_LOG_FILE"); logFile != "" {
		config.OutputPaths = append(config.OutputPaths, logFile)
	}
	config.Level = zap.NewAtomicLevelAt(getLevelFromEnv())
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"

	var err error
	Logger, err = config.Build()
	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(Logger)
}

func getLevelFromEnv() zapcore.Level {
	levelStr := strings.ToLower(os.Getenv("VARUNA_LOG_LEVEL"))
	switch levelStr {
	case "":
		return zapcore.InfoLevel
	case "warning":
		return zapcore.WarnLevel
	}

	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func ToPrettyJSON(v interface{}) string {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(bytes)
}
