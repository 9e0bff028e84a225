/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package osutil

import (
	"os"
	"strings"
	"time"
)

// EnvVarDurationValWithDefault returns the duration (e.g. "30s") stored in the environment variable.
// Returns defaultVal if the variable is not set, is empty, cannot be parsed or is not positive.
func EnvVarDurationValWithDefault(varName string, defaultVal time.Duration) time.Duration {
	value, found := os.LookupEnv(varName)
	if !found || strings.TrimSpace(value) == "" {
		return defaultVal
	}

	value = strings.TrimSpace(value)
	val, err := time.ParseDuration(value)
	if err != nil || val <= 0 {
		return defaultVal
	}

	return val
}
