// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command canvasctl administers canvas data files offline.
//
// # Commands
//
//	canvasctl provision --size N [--fill Color]    create or grow the board
//	canvasctl replay --out board.txt --size N      rebuild a board from diffs
//	canvasctl inspect [--tail N]                   print diff records
//	canvasctl config [--config canvas.yaml]        print effective configuration
//
// Provisioning is the only way the board grows; the server never resizes it.
package main

import (
	"log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
