package main

import (
	"os"

	"github.com/wonny/alpharank/backend/cmd/alpharank/commands"
)

// main is the entry point for the alpharank CLI
// ⭐ unified CLI entry point: go run ./cmd/alpharank [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
