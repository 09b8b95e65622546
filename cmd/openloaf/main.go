// Package main is the entry point for the openloaf CLI.
package main

import (
	"fmt"
	"os"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
