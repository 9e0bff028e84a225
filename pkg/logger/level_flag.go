/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Named verbosity levels. "frames" is the level at which every frame sent or received is logged,
// which is the same as "debug", i.e. logr V(1).
var namedLevels = map[string]zapcore.Level{
	"error":   zapcore.ErrorLevel,
	"warn":    zapcore.WarnLevel,
	"warning": zapcore.WarnLevel,
	"info":    zapcore.InfoLevel,
	"debug":   zapcore.DebugLevel,
	"frames":  zapcore.DebugLevel,
}

// ParseLevel converts a level name, or a positive logr verbosity such as "2", to a zap level.
func ParseLevel(value string) (zapcore.Level, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if level, isNamed := namedLevels[value]; isNamed {
		return level, nil
	}

	verbosity, err := strconv.Atoi(value)
	if err != nil || verbosity <= 0 || verbosity > 127 {
		return zapcore.InvalidLevel, fmt.Errorf("invalid log level \"%s\"", value)
	}

	// logr V(n) maps to zap level -n.
	return zapcore.Level(int8(-verbosity)), nil
}

// LevelFlagValue is the value of the verbosity flag. Setting it applies the level right away.
type LevelFlagValue struct {
	apply func(zapcore.Level)
	raw   string
}

func NewLevelFlagValue(apply func(zapcore.Level)) LevelFlagValue {
	return LevelFlagValue{apply: apply}
}

func (lfv *LevelFlagValue) Set(flagValue string) error {
	level, err := ParseLevel(flagValue)
	if err != nil {
		return err
	}

	lfv.apply(level)
	lfv.raw = flagValue
	return nil
}

func (lfv *LevelFlagValue) String() string {
	return lfv.raw
}

func (*LevelFlagValue) Type() string {
	return "level"
}

var _ pflag.Value = &LevelFlagValue{}

// GetLevelFlagValue finds the verbosity flag in fs, if it was added with AddLevelFlag.
func GetLevelFlagValue(fs *pflag.FlagSet) (*LevelFlagValue, bool) {
	if fs == nil {
		return nil, false
	}
	levelFlag := fs.Lookup(verbosityFlagName)
	if levelFlag == nil {
		return nil, false
	}
	levelVal, isLevel := levelFlag.Value.(*LevelFlagValue)
	return levelVal, isLevel
}

// GetVerbosityArgs returns the verbosity flag to pass to a launched backend so that it logs
// at the same level as the controller. Returns nil if the verbosity was not set.
func GetVerbosityArgs(fs *pflag.FlagSet) []string {
	if levelFlagValue, found := GetLevelFlagValue(fs); found && levelFlagValue.String() != "" {
		return []string{fmt.Sprintf("--%s=%s", verbosityFlagName, levelFlagValue.String())}
	}
	return nil
}
