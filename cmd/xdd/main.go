// Command xdd is the external CLI front-end for the xdd benchmarking
// engine. It parses a single target's worth of flags, builds a
// xdd.Plan, and hands it to xdd.Plan.Run; it is not part of the core
// package (SPEC_FULL.md §2.1).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
