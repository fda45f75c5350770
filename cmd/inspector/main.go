// Command inspector uploads engineering models for analysis, prints the
// instrument report and renders headless snapshots of the model.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
