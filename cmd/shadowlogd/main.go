// Package main provides the entry point for the shadowlogd capture daemon.
package main

import (
	"os"

	"github.com/shadowlog/shadowlog/cmd/shadowlogd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
