// Command campaignctl operates the campaign delivery engine from a shell:
// inspecting campaigns and quota, starting sends, and running the
// dispatcher or recovery sweep once.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultCLI()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
