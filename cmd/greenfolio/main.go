// Command greenfolio runs the allocator and the frontier sampler on YAML
// universe files, without the server.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
