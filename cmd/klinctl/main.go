// Command klinctl drives the marketplace account flows from a terminal: sign
// in and out, registration, email verification, password reset with the PIN
// challenge, and profile management. The session persists between runs in the
// configured storage backend.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
