// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command topics inspects and checkpoints topic graph fixtures.
//
// Usage:
//
//	topics inspect site.yaml
//	topics resolve site.yaml Root:Blog:First Layout --inherit base
//	topics dirty site.yaml
//	topics checkpoint site.yaml --db ./data
//	topics schema [schema.yaml]
package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
