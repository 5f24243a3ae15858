// ABOUTME: Entry point for the VulnLens command line and service.
// ABOUTME: Executes the cobra command tree and exits non-zero on failure.

package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
