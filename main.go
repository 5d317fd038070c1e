// ./main.go
package main

import (
	"github.com/MrDeox/Autogs/cmd"
)

// main is the entry point for the autogs binary.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
