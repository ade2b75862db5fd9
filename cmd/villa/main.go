// Package main provides the entry point for the villa CLI.
package main

import (
	"os"

	"github.com/villakit/villa/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
