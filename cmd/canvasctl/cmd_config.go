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
	"os"

	"github.com/AleutianAI/AleutianCanvas/services/canvas"
	"github.com/spf13/cobra"
)

// lookupEnv is swapped by tests.
var lookupEnv canvas.LookupFunc = os.LookupEnv

// runConfig prints the configuration the server would start with, built
// the same way cmd/canvas builds it.
func runConfig(cmd *cobra.Command, opts *options) error {
	cfg, err := canvas.ConfigFromEnv(lookupEnv)
	if err != nil {
		return err
	}
	if opts.configPath != "" {
		cfg, err = canvas.LoadConfigFile(opts.configPath, cfg)
		if err != nil {
			return err
		}
	}
	data, err := canvas.MarshalYAMLConfig(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
