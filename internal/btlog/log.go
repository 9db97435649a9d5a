// Package btlog is the client's diagnostic logger. The example pack's
// full client repos gate their progress output behind a -verbose flag
// and print straight to stdout/stderr (see flags.go and the
// "if verbose { fmt.Printf(...) }" convention throughout
// peer_wire_protocol.go); this keeps that convention as a small typed
// wrapper instead of scattering a package-level bool through every
// package.
package btlog

import (
	"fmt"
	"log"
	"os"
)

var (
	verbose bool
	logger  = log.New(os.Stderr, "", 0)
)

// SetVerbose turns per-peer/per-piece diagnostic output on or off. It is
// set once, from the CLI's -verbose flag.
func SetVerbose(v bool) { verbose = v }

// Verbosef prints a diagnostic line only when verbose mode is on.
func Verbosef(format string, args ...any) {
	if verbose {
		logger.Output(2, fmt.Sprintf(format, args...))
	}
}

// Errorf always prints — it's how a failed command reports its one
// contextual diagnostic line on stderr before the CLI exits non-zero.
func Errorf(format string, args ...any) {
	logger.Output(2, fmt.Sprintf(format, args...))
}
