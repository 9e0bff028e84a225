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
		Use:           "dbgbackend",
		Short:         "Hosts a debugger engine behind the engine RPC protocol",
		Long: `Hosts a debugger engine behind the engine RPC protocol.

	The backend host serves a single controller, over its standard streams or over a socket.
	Logs are written to stderr only, because stdout may carry the protocol.`,
		SilenceUsage:     true,
		PersistentPreRun: cmds.LogVersion(logger.Logger, "Starting dbgbackend..."),
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

	rootCmd.AddCommand(NewServeCommand(logger.Logger))

	return rootCmd, nil
}
