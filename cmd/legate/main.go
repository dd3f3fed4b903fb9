// Package main is the entry point for the legate CLI.
//
// Usage:
//
//	legate [flags] <command>
//
// Commands:
//
//	start      - Start the daemon in the foreground
//	stop       - Stop a running daemon
//	status     - Show daemon status
//	configure  - Run the interactive configuration wizard
package main

import (
	"fmt"
	"os"

	"github.com/legatehq/legate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
