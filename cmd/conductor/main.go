package main

import (
	"fmt"
	"os"
)

// exitCode carries the run outcome (0 complete, 1 blocked, 2 budget
// exhausted) past cobra's error handling.
var exitCode int

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
