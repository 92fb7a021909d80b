// Command throttle runs the fixed-window rate limiting service and its
// operator tooling.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
