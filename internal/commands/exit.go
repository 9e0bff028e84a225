/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"os"

	"github.com/qt-creator/qt-creator-sub115/pkg/logger"
	"github.com/qt-creator/qt-creator-sub115/pkg/osutil"
)

// ErrorExit reports err on stderr and in the log, flushes the log and exits with the given code.
func ErrorExit(log *logger.Logger, err error, exitCode int) {
	_, _ = os.Stderr.Write(osutil.WithNewline([]byte(err.Error())))
	log.Error(err, "Command failed", "exitCode", exitCode)
	log.Flush()
	os.Exit(exitCode)
}
