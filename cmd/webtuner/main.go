// Package main is the entry point for the webtuner application.
package main

import (
	"os"

	"github.com/webtuner/webtuner/cmd/webtuner/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
