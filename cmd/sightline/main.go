// Package main is the entry point for the sightline CLI application.
package main

import (
	"fmt"
	"os"

	"github.com/sightlinehq/sightline/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
