/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	cmds "github.com/aspnet/AspLabs-sub007/internal/commands"
	"github.com/aspnet/AspLabs-sub007/pkg/logger"
)

func NewRootCommand(logger *logger.Logger) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		SilenceErrors: true,
		Use:           "diagnostics",
		Short:         "Streams diagnostic events between instrumented programs and monitors",
		Long: `Streams diagnostic events between instrumented programs and monitors.

	The host command runs a diagnostic server inside an instrumented program.
	The monitor command connects to a diagnostic server, enables event sources and prints the events they write.`,
		SilenceUsage:     true,
		PersistentPreRun: cmds.LogVersion(logger.Logger, "Starting diagnostics..."),
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	logger.AddLevelFlag(rootCmd.PersistentFlags())

	rootCmd.AddCommand(cmds.NewVersionCommand(logger.Logger))
	rootCmd.AddCommand(NewHostCommand(logger.Logger))

	if cmd, err := NewMonitorCommand(logger.Logger); err != nil {
		return nil, fmt.Errorf("could not set up 'monitor' command: %w", err)
	} else {
		rootCmd.AddCommand(cmd)
	}

	return rootCmd, nil
}
