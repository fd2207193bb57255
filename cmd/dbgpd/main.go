// Package main is the entry point for the dbgpd daemon.
package main

import (
	"os"

	"github.com/dbgp-dev/dbgpd/cmd/dbgpd/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
