/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"errors"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qt-creator/qt-creator-sub115/pkg/osutil"
)

const (
	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"
)

// Logger is a logr.Logger whose stderr verbosity can be changed after creation.
type Logger struct {
	logr.Logger
	name         string
	consoleLevel zap.AtomicLevel
	zapLogger    *zap.Logger
}

// New creates a logger writing human readable output to stderr, plus a JSON diagnostics log
// when DBG_DIAGNOSTICS_LOG_LEVEL is set.
// Stdout is never used: the debugger backend host speaks the protocol over it.
func New(name string) *Logger {
	encoderConfig := newEncoderConfig()
	consoleLevel := zap.NewAtomicLevel() // info

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), consoleLevel),
	}

	diagnosticsCore, diagnosticsErr := newDiagnosticsCore(name, encoderConfig)
	if diagnosticsCore != nil {
		cores = append(cores, diagnosticsCore)
	}

	zapLogger := zap.New(zapcore.NewTee(cores...))
	l := &Logger{
		Logger:       zapr.NewLogger(zapLogger),
		name:         name,
		consoleLevel: consoleLevel,
		zapLogger:    zapLogger,
	}

	if diagnosticsErr != nil && !errors.Is(diagnosticsErr, errDiagnosticsLogNotEnabled) {
		l.Error(diagnosticsErr, "Diagnostics log is not available")
	}
	return l
}

func newEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.LineEnding = string(osutil.LineSep())
	return encoderConfig
}

// WithName adds a name segment to the logger and returns it.
func (l *Logger) WithName(name string) *Logger {
	l.Logger = l.Logger.WithName(name)
	return l
}

// SetLevel changes the verbosity of the stderr output. The diagnostics log keeps its own level.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.consoleLevel.SetLevel(level)
}

func (l *Logger) Flush() {
	_ = l.zapLogger.Sync()
}

// AddLevelFlag adds the --verbosity (-v) flag, which sets the stderr log level.
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	levelVal := NewLevelFlagValue(l.SetLevel)
	fs.VarP(&levelVal, verbosityFlagName, verbosityFlagShortName, "Logging verbosity level (e.g. -v=debug). Can be one of 'error', 'warn', 'info', 'debug' or 'frames', or any positive integer corresponding to increasing levels of debug verbosity. Frames are traced at level 1.")
}
