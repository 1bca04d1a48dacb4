// Package main is the entry point for the pagewalk CLI.
package main

import (
	"os"

	"github.com/jmylchreest/pagewalk/cmd/pagewalk/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
