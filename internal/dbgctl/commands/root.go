/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	cmds "github.com/qt-creator/qt-creator-sub115/internal/commands"
	"github.com/qt-creator/qt-creator-sub115/pkg/logger"
)

func NewRootCommand(logger *logger.Logger) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		SilenceErrors: true,
		Use:           "dbgctl",
		Short:         "Controls debugger sessions over the engine RPC protocol",
		Long: `Controls debugger sessions over the engine RPC protocol.

	dbgctl connects to a debugger backend host (in-process, launched locally, reached over a socket or started through SSH),
	drives the engine through its lifecycle and reports what the engine does.`,
		SilenceUsage:     true,
		PersistentPreRun: cmds.LogVersion(logger.Logger, "Starting dbgctl..."),
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	logger.AddLevelFlag(rootCmd.PersistentFlags())

	var err error
	var cmd *cobra.Command

	if cmd, err = cmds.NewVersionCommand(logger.Logger); err != nil {
		return nil, fmt.Errorf("could not set up 'version' command: %w", err)
	} else {
		rootCmd.AddCommand(cmd)
	}

	rootCmd.AddCommand(NewRunCommand(logger.Logger))

	return rootCmd, nil
}
