//go:build !windows

package main

import (
	"os"
	"syscall"
)

// sweepSignals lists the signals that cancel a running sweep. A hangup from
// a closed terminal winds the sweep down like Ctrl-C, so the ledger records
// it as cancelled.
func sweepSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
}
