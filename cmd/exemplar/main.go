// Package main provides the entry point for the exemplar CLI.
package main

import (
	"os"

	"github.com/docsage/exemplar/cmd/exemplar/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
