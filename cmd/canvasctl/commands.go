// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/AleutianAI/AleutianCanvas/services/canvas"
	"github.com/spf13/cobra"
)

// options holds flag values shared by subcommands.
type options struct {
	boardPath string
	diffPath  string

	// provision
	size int64
	fill string

	// replay
	outPath string
	force   bool

	// inspect
	tail int
	json bool

	// config
	configPath string
}

// newRootCmd builds a fresh command tree so tests can execute it repeatedly.
func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "canvasctl",
		Short: "Administer canvas board and diff log files",
		Long: `canvasctl operates directly on the files the canvas server uses.
It provisions the board, rebuilds boards from the diff log and
inspects recorded placements.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.boardPath, "board", canvas.DefaultBoardPath,
		"Path to the board file")
	rootCmd.PersistentFlags().StringVar(&opts.diffPath, "diffs", canvas.DefaultDiffPath,
		"Path to the diff log")

	// --- Board ---
	provisionCmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the board or grow it to --size pixels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd, opts) // Defined in cmd_board.go
		},
	}
	provisionCmd.Flags().Int64Var(&opts.size, "size", 0, "Board length in pixels (required)")
	provisionCmd.Flags().StringVar(&opts.fill, "fill", "White", "Color for new pixels")
	_ = provisionCmd.MarkFlagRequired("size")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a board by applying the diff log in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts) // Defined in cmd_board.go
		},
	}
	replayCmd.Flags().StringVar(&opts.outPath, "out", "", "Board file to write (required)")
	replayCmd.Flags().Int64Var(&opts.size, "size", 0, "Board length in pixels (required)")
	replayCmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite --out if it exists")
	_ = replayCmd.MarkFlagRequired("out")
	_ = replayCmd.MarkFlagRequired("size")

	// --- Diff Log ---
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print diff log records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, opts) // Defined in cmd_inspect.go
		},
	}
	inspectCmd.Flags().IntVar(&opts.tail, "tail", 0, "Only print the last N records")
	inspectCmd.Flags().BoolVar(&opts.json, "json", false, "Print one JSON object per line")

	// --- Configuration ---
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective server configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, opts) // Defined in cmd_config.go
		},
	}
	configCmd.Flags().StringVar(&opts.configPath, "config", "", "YAML file applied after the environment")

	rootCmd.AddCommand(provisionCmd, replayCmd, inspectCmd, configCmd)
	return rootCmd
}
