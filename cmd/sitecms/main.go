// Package main is the entry point for the sitecms CLI application.
//
// The main package is kept minimal. All the actual logic lives in other
// packages, the commands in internal/commands.
package main

import (
	"os"

	"github.com/shuklalaw/sitecms/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintError(err)
		os.Exit(1)
	}
}
