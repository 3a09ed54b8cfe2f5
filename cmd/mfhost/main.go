// Command mfhost runs the microfrontend host daemon and inspects its
// manifests.
package main

import (
	"fmt"
	"os"
)

// Set via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
