// polish-int - command-line client for the paper optimization service.
//
// Build with:
//
//	go build -ldflags "-X github.com/paperpolish/polish-int/internal/version.Version=v0.3.0" ./cmd/polish-int
package main

import (
	"os"

	"github.com/paperpolish/polish-int/internal/cli"
)

func main() {
	// Cobra already printed the error; only the exit status is left.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
