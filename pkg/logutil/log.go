// Copyright 2022 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logutil

import (
	"context"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var gLogger atomic.Value

func init() {
	SetupLogger(&LogConfig{
		Level:  zapcore.InfoLevel.String(),
		Format: "console",
	})
}

// GetGlobalLogger returns the current global zap Logger.
func GetGlobalLogger() *zap.Logger {
	return gLogger.Load().(*zap.Logger)
}

// ReplaceGlobalLogger replaces the global logger and returns a function that
// restores the previous one.
func ReplaceGlobalLogger(logger *zap.Logger) func() {
	prev := GetGlobalLogger()
	gLogger.Store(logger)
	return func() {
		gLogger.Store(prev)
	}
}

func Info(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

// Infof only use in develop mode
func Infof(msg string, fields ...interface{}) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Infof(msg, fields...)
}

// Warnf only use in develop mode
func Warnf(msg string, fields ...interface{}) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Warnf(msg, fields...)
}

type ctxKeyLogger struct{}

// WithLogger attaches logger to ctx; FromContext falls back to the global logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger{}, logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKeyLogger{}).(*zap.Logger); ok {
			return l
		}
	}
	return GetGlobalLogger()
}

// LogClose flushes the global logger.
func LogClose() error {
	err := GetGlobalLogger().Sync()
	// syncing stdout/stderr returns EINVAL on linux, nothing to report
	if err != nil && isConsoleSyncErr(err) {
		return nil
	}
	return err
}

func isConsoleSyncErr(err error) bool {
	pe, ok := err.(*os.PathError)
	return ok && (pe.Path == "/dev/stdout" || pe.Path == "/dev/stderr")
}
