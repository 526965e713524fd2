// Package main is the entry point for retrovue-playoutd, the real-time
// channel playout daemon.
package main

import (
	"os"

	"github.com/jmylchreest/tvarr/cmd/retrovue-playoutd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
